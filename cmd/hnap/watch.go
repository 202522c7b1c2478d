package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/jmerrifield20/hnap/internal/metrics"
	"github.com/jmerrifield20/hnap/internal/sensor"
	"github.com/jmerrifield20/hnap/internal/server"
	"github.com/jmerrifield20/hnap/internal/watch"
	"github.com/jmerrifield20/hnap/pkg/hnap"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Poll sensors and report on/off transitions",
	Long: `watch polls one or more sensors on the device and logs an event each time
a sensor fires, turns on or turns off. With --listen it also serves the
sensor state and Prometheus metrics over HTTP.

Sensors are given as kind[:name[:moduleID]], where kind is motion or water:

  hnap watch --sensor motion:hallway --sensor water:basement:1 --listen :9100`,
	RunE: runWatch,
}

func init() {
	f := watchCmd.Flags()
	f.StringSlice("sensor", nil, "sensor to watch (repeatable, default motion)")
	f.Duration("interval", 5*time.Second, "poll interval")
	f.Duration("timeout", 35*time.Second, "how long a sensor stays on after firing")
	f.String("listen", "", "address for the status API, empty to disable")
	_ = viper.BindPFlag("watch.sensors", f.Lookup("sensor"))
	_ = viper.BindPFlag("watch.interval", f.Lookup("interval"))
	_ = viper.BindPFlag("watch.timeout", f.Lookup("timeout"))
	_ = viper.BindPFlag("server.listen", f.Lookup("listen"))
}

// sensorSpec is a parsed --sensor value.
type sensorSpec struct {
	Kind     string
	Name     string
	ModuleID int
}

func parseSensorSpec(s string, defaultModule int) (sensorSpec, error) {
	parts := strings.Split(s, ":")
	if len(parts) > 3 {
		return sensorSpec{}, fmt.Errorf("invalid sensor %q: want kind[:name[:moduleID]]", s)
	}
	spec := sensorSpec{Kind: strings.ToLower(parts[0]), Name: parts[0], ModuleID: defaultModule}
	switch spec.Kind {
	case "motion", "water":
	default:
		return sensorSpec{}, fmt.Errorf("invalid sensor %q: unknown kind %q", s, parts[0])
	}
	if len(parts) > 1 && parts[1] != "" {
		spec.Name = parts[1]
	}
	if len(parts) > 2 {
		id, err := strconv.Atoi(parts[2])
		if err != nil || id < 0 {
			return sensorSpec{}, fmt.Errorf("invalid sensor %q: bad module ID", s)
		}
		spec.ModuleID = id
	}
	return spec, nil
}

func newWatchers(c *hnap.Client, specs []string, cfg watch.Config) ([]*watch.Watcher, error) {
	if len(specs) == 0 {
		specs = []string{"motion"}
	}
	seen := make(map[string]bool, len(specs))
	watchers := make([]*watch.Watcher, 0, len(specs))
	for _, s := range specs {
		spec, err := parseSensorSpec(s, viper.GetInt("module_id"))
		if err != nil {
			return nil, err
		}
		if seen[spec.Name] {
			return nil, fmt.Errorf("duplicate sensor name %q", spec.Name)
		}
		seen[spec.Name] = true

		var source watch.TriggerSource
		if spec.Kind == "water" {
			source = sensor.NewWaterSensor(c, spec.ModuleID)
		} else {
			source = sensor.NewMotionSensor(c, spec.ModuleID)
		}
		w := watch.New(spec.Name, source, cfg, logger.Named("watch"))
		w.SetMetricsRecord(metrics.RecordPoll)
		w.SetStateRecord(metrics.SetSensorOn)
		w.SetEventHandler(printEvent)
		watchers = append(watchers, w)
	}
	return watchers, nil
}

func runWatch(cmd *cobra.Command, args []string) error {
	c, err := newClient()
	if err != nil {
		return err
	}
	cfg := watch.Config{
		Interval: viper.GetDuration("watch.interval"),
		Timeout:  viper.GetDuration("watch.timeout"),
		Rate:     rate.Limit(viper.GetFloat64("watch.rate")),
		Burst:    viper.GetInt("watch.burst"),
	}
	watchers, err := newWatchers(c, viper.GetStringSlice("watch.sensors"), cfg)
	if err != nil {
		return err
	}

	ctx, cancel := commandContext()
	defer cancel()

	if err := c.Login(ctx); err != nil {
		printFailure("login failed: %v", err)
		return err
	}
	group := watch.NewGroup(watchers...)

	var errCh chan error
	if listen := viper.GetString("server.listen"); listen != "" {
		errCh = make(chan error, 1)
		srv := server.New(server.Config{
			Listen:       listen,
			CORSOrigins:  viper.GetStringSlice("server.cors_origins"),
			RateLimitRPS: viper.GetInt("server.rate_limit_rps"),
		}, group, logger.Named("server"))
		go func() {
			err := srv.ListenAndServe(ctx)
			if err != nil {
				cancel()
			}
			errCh <- err
		}()
	}

	logger.Info("watching sensors",
		zap.String("address", c.Address()),
		zap.Int("sensors", len(watchers)),
		zap.Duration("interval", cfg.Interval),
	)
	group.Run(ctx)

	if errCh != nil {
		if err := <-errCh; err != nil {
			return fmt.Errorf("status server: %w", err)
		}
	}
	if outputFormat == "text" {
		printSnapshots(group.Snapshots())
		return nil
	}
	return printValue(os.Stdout, outputFormat, group.Snapshots())
}

func printEvent(e watch.Event) {
	switch e.Kind {
	case watch.EventOn:
		printSuccess("%s on (triggered %s)", e.Sensor, e.Trigger.Local().Format(time.RFC3339))
	case watch.EventOff:
		fmt.Printf("  %s off\n", e.Sensor)
	}
}

func printSnapshots(snaps []watch.Snapshot) {
	tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SENSOR\tON\tLAST TRIGGER\tPOLLS\tFAILURES")
	for _, s := range snaps {
		last := "-"
		if !s.LastTrigger.IsZero() {
			last = s.LastTrigger.Local().Format(time.RFC3339)
		}
		fmt.Fprintf(tw, "%s\t%t\t%s\t%d\t%d\n", s.Sensor, s.On, last, s.Polls, s.Failures)
	}
	_ = tw.Flush()
}
