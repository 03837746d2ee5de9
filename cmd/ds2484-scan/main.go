// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// ds2484-scan enumerates DS28EA00 temperature sensors behind a DS2484
// 1-wire bridge and prints periodic readings.
package main

import (
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"gopkg.in/yaml.v3"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"

	"github.com/GermanBionicSystems/onewire"
	"github.com/GermanBionicSystems/onewire/ds2484"
	"github.com/GermanBionicSystems/onewire/ds28ea00"
)

// duration unmarshals "560µs" style YAML scalars.
type duration time.Duration

func (d *duration) UnmarshalYAML(n *yaml.Node) error {
	var s string
	if err := n.Decode(&s); err != nil {
		return err
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = duration(v)
	return nil
}

// config is the YAML file schema accepted by -config. Zero fields keep the
// bridge's power-on defaults.
type config struct {
	PassivePullup bool `yaml:"passive-pullup"`
	Retries       int  `yaml:"retries"`
	Port          struct {
		ResetLow         duration `yaml:"reset-low"`
		ResetLowOD       duration `yaml:"reset-low-od"`
		PresenceDetect   duration `yaml:"presence-detect"`
		PresenceDetectOD duration `yaml:"presence-detect-od"`
		Write0Low        duration `yaml:"write-0-low"`
		Write0LowOD      duration `yaml:"write-0-low-od"`
		Write0Recovery   duration `yaml:"write-0-recovery"`
		PullupOhm        int      `yaml:"pullup-ohm"`
	} `yaml:"port"`
}

func (c *config) opts() (*ds2484.Opts, error) {
	o := ds2484.DefaultOpts
	o.PassivePullup = c.PassivePullup
	if c.Retries != 0 {
		o.Retries = c.Retries
	}
	p := &c.Port
	for _, f := range []struct {
		v   duration
		dst *time.Duration
	}{
		{p.ResetLow, &o.Port.ResetLow},
		{p.ResetLowOD, &o.Port.ResetLowOD},
		{p.PresenceDetect, &o.Port.PresenceDetect},
		{p.PresenceDetectOD, &o.Port.PresenceDetectOD},
		{p.Write0Low, &o.Port.Write0Low},
		{p.Write0LowOD, &o.Port.Write0LowOD},
		{p.Write0Recovery, &o.Port.Write0Recovery},
	} {
		if f.v != 0 {
			*f.dst = time.Duration(f.v)
		}
	}
	switch p.PullupOhm {
	case 0:
	case 500:
		o.Port.PullupRes = ds2484.R500Ω
	case 1000:
		o.Port.PullupRes = ds2484.R1000Ω
	default:
		return nil, fmt.Errorf("unsupported pullup-ohm %d", p.PullupOhm)
	}
	return &o, nil
}

func mainImpl() error {
	busName := flag.String("bus", "", "I²C bus to use (default: the first available)")
	configPath := flag.String("config", "", "YAML file with bridge and port timing configuration")
	interval := flag.Duration("interval", 5*time.Second, "time between temperature readings")
	count := flag.Int("n", 0, "number of reading rounds, 0 for forever")
	pio := flag.Bool("pio", false, "drive the sensors' PIO pins during conversions")
	flag.Parse()
	if flag.NArg() != 0 {
		return fmt.Errorf("unexpected argument: %s", flag.Arg(0))
	}

	opts := &ds2484.DefaultOpts
	if *configPath != "" {
		raw, err := os.ReadFile(*configPath)
		if err != nil {
			return err
		}
		var c config
		if err := yaml.Unmarshal(raw, &c); err != nil {
			return fmt.Errorf("%s: %w", *configPath, err)
		}
		if opts, err = c.opts(); err != nil {
			return fmt.Errorf("%s: %w", *configPath, err)
		}
	}

	if _, err := host.Init(); err != nil {
		return err
	}
	b, err := i2creg.Open(*busName)
	if err != nil {
		return err
	}
	defer b.Close()

	d, err := ds2484.New(b, opts)
	if err != nil {
		return err
	}

	addrs, err := ds28ea00.Enumerate(d)
	if err != nil {
		return err
	}
	log.Printf("found %d sensors", len(addrs))

	sensors := make([]*ds28ea00.Dev, 0, len(addrs))
	for _, addr := range addrs {
		s, err := ds28ea00.New(d, addr, nil)
		if err != nil {
			return fmt.Errorf("%s: %w", addr, err)
		}
		sensors = append(sensors, s)
	}

	for round := 0; *count == 0 || round < *count; round++ {
		if round != 0 {
			time.Sleep(*interval)
		}
		if *pio {
			if err := ds28ea00.SetAllPIO(d, true); err != nil {
				return err
			}
		}
		if err := ds28ea00.ConvertAll(d, 12); err != nil {
			return err
		}
		if *pio {
			if err := ds28ea00.SetAllPIO(d, false); err != nil {
				return err
			}
		}
		for _, s := range sensors {
			t, err := s.LastTemp()
			if err != nil {
				var be onewire.BusError
				if errors.As(err, &be) {
					log.Printf("%s: %s", s, err)
					continue
				}
				return err
			}
			fmt.Printf("%s: %s\n", s, t)
		}
	}
	return nil
}

func main() {
	if err := mainImpl(); err != nil {
		fmt.Fprintf(os.Stderr, "ds2484-scan: %s\n", err)
		os.Exit(1)
	}
}
