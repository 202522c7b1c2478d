package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jmerrifield20/hnap/internal/sensor"
	"github.com/jmerrifield20/hnap/pkg/hnap"
)

// deviceCommands returns the typed wrappers around common actions.
func deviceCommands() []*cobra.Command {
	latestMotion := &cobra.Command{
		Use:   "latest-motion",
		Short: "Show when the motion sensor last fired",
		RunE: withClient(func(ctx context.Context, c *hnap.Client) error {
			t, err := sensor.NewMotionSensor(c, viper.GetInt("module_id")).LatestTrigger(ctx)
			return printTrigger(t, err)
		}),
	}

	water := &cobra.Command{
		Use:   "water",
		Short: "Show whether the water sensor detects water",
		RunE: withClient(func(ctx context.Context, c *hnap.Client) error {
			wet, err := sensor.NewWaterSensor(c, viper.GetInt("module_id")).WaterDetected(ctx)
			if err != nil {
				return fmt.Errorf("read water state: %w", err)
			}
			if outputFormat != "text" {
				return printValue(os.Stdout, outputFormat, map[string]bool{"water": wet})
			}
			if wet {
				printFailure("water detected")
			} else {
				printSuccess("dry")
			}
			return nil
		}),
	}

	profile := responseCommand("profile", "Show the module profile", (*sensor.Device).Profile)
	firmware := responseCommand("firmware-status", "Show the firmware version and update status", (*sensor.Device).FirmwareStatus)
	internetStatus := responseCommand("internet-status", "Show whether the device reaches the internet", (*sensor.Device).InternetStatus)
	internetSettings := responseCommand("internet-settings", "Show the WAN settings", (*sensor.Device).InternetSettings)

	var maxCount int
	systemLog := &cobra.Command{
		Use:   "system-log",
		Short: "Show the device system log",
		RunE: withClient(func(ctx context.Context, c *hnap.Client) error {
			resp, err := sensor.NewDevice(c, viper.GetInt("module_id")).SystemLogs(ctx, maxCount)
			if err != nil {
				return fmt.Errorf("read system log: %w", err)
			}
			return printResponse(os.Stdout, outputFormat, resp)
		}),
	}
	systemLog.Flags().IntVar(&maxCount, "max-count", 100, "maximum number of entries")

	var sp sensor.SoundPlay
	soundPlay := &cobra.Command{
		Use:   "sound-play",
		Short: "Sound the siren",
		RunE: withClient(func(ctx context.Context, c *hnap.Client) error {
			resp, err := sensor.NewDevice(c, viper.GetInt("module_id")).SoundPlay(ctx, sp)
			if err != nil {
				return fmt.Errorf("play sound: %w", err)
			}
			if outputFormat != "text" {
				return printResponse(os.Stdout, outputFormat, resp)
			}
			printSuccess("SetSoundPlay: %s", resp.Result())
			return nil
		}),
	}
	f := soundPlay.Flags()
	f.StringVar(&sp.SoundType, "sound-type", "1", "sound to play (1 emergency, 2 fire, 3 ambulance, 4 police, 5 door chime, 6 beep)")
	f.StringVar(&sp.Volume, "volume", "100", "volume from 1 to 100")
	f.StringVar(&sp.Duration, "duration", "10", "duration in seconds, 0 to stop")
	f.StringVar(&sp.Controller, "controller", "1", "controller ID")

	return []*cobra.Command{
		latestMotion, water, profile, systemLog, firmware,
		internetStatus, internetSettings, soundPlay,
	}
}

// withClient adapts fn into a cobra RunE with a configured client and a
// signal-aware context.
func withClient(fn func(ctx context.Context, c *hnap.Client) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		ctx, cancel := commandContext()
		defer cancel()
		return fn(ctx, c)
	}
}

func responseCommand(use, short string, get func(*sensor.Device, context.Context) (*hnap.Response, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		RunE: withClient(func(ctx context.Context, c *hnap.Client) error {
			resp, err := get(sensor.NewDevice(c, viper.GetInt("module_id")), ctx)
			if err != nil {
				return fmt.Errorf("%s: %w", use, err)
			}
			return printResponse(os.Stdout, outputFormat, resp)
		}),
	}
}

func printTrigger(t time.Time, err error) error {
	if errors.Is(err, sensor.ErrNoDetection) {
		if outputFormat != "text" {
			return printValue(os.Stdout, outputFormat, map[string]any{"detected": false})
		}
		fmt.Println("no detection recorded")
		return nil
	}
	if err != nil {
		return fmt.Errorf("read latest detection: %w", err)
	}
	if outputFormat != "text" {
		return printValue(os.Stdout, outputFormat, map[string]any{"detected": true, "time": t})
	}
	fmt.Printf("%s (%s ago)\n", t.Local().Format(time.RFC3339), time.Since(t).Round(time.Second))
	return nil
}
