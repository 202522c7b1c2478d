// hnap is a command-line client for HNAP devices (D-Link motion sensors,
// water sensors, sirens and routers).
//
//	hnap --address 192.168.0.20 --password 123456 actions
//	hnap latest-motion
//	hnap call GetModuleProfile ModuleID=1 --format yaml
//	hnap watch --listen :9100
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/jmerrifield20/hnap/internal/metrics"
	"github.com/jmerrifield20/hnap/pkg/hnap"
	"github.com/jmerrifield20/hnap/pkg/hnap/soap"
)

// version is overridden via -ldflags "-X main.version=...".
var version = "dev"

var (
	cfgFile      string
	outputFormat string
	logger       = zap.NewNop()
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "hnap",
	Short: "HNAP device client",
	Long: `hnap talks to devices that speak the Home Network Administration
Protocol. It logs in with the device PIN, signs every request and logs in
again transparently when the device expires the session.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := loadConfig(); err != nil {
			return err
		}
		l, err := newLogger(viper.GetBool("debug"))
		if err != nil {
			return fmt.Errorf("init logger: %w", err)
		}
		logger = l
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = logger.Sync()
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "config file (default ~/.hnap/config.yaml)")
	pf.String("address", "", "device address (host or host:port)")
	pf.String("username", hnap.DefaultUsername, "device username")
	pf.String("password", "", "device password (the PIN on the label)")
	pf.Duration("request-timeout", 10*time.Second, "per-request timeout")
	pf.Int("module-id", 1, "module ID for module-scoped actions")
	pf.String("nonsoap-policy", "accept", "handling of non-SOAP replies: accept, reauthenticate or reject")
	pf.Bool("https", false, "talk to the device over HTTPS")
	pf.Bool("debug", false, "verbose logging")
	pf.StringVar(&outputFormat, "format", "text", "output format: text, json or yaml")

	for key, flag := range map[string]string{
		"address":         "address",
		"username":        "username",
		"password":        "password",
		"request_timeout": "request-timeout",
		"module_id":       "module-id",
		"nonsoap_policy":  "nonsoap-policy",
		"https":           "https",
		"debug":           "debug",
	} {
		_ = viper.BindPFlag(key, pf.Lookup(flag))
	}

	rootCmd.AddCommand(loginCmd, actionsCmd, moduleActionsCmd, callCmd, versionCmd)
	rootCmd.AddCommand(deviceCommands()...)
	rootCmd.AddCommand(watchCmd)
}

func loadConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, _ := os.UserHomeDir()
		viper.AddConfigPath(home + "/.hnap")
		viper.AddConfigPath(".")
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}
	viper.SetEnvPrefix("hnap")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	viper.SetDefault("watch.interval", 5*time.Second)
	viper.SetDefault("watch.timeout", 35*time.Second)
	viper.SetDefault("watch.rate", 1.0)
	viper.SetDefault("watch.burst", 2)
	viper.SetDefault("watch.sensors", []string{})
	viper.SetDefault("server.listen", "")
	viper.SetDefault("server.cors_origins", []string{})
	viper.SetDefault("server.rate_limit_rps", 10)

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("read config: %w", err)
		}
	}
	return nil
}

// newLogger uses the human-readable development encoder on terminals.
func newLogger(debug bool) (*zap.Logger, error) {
	if debug || isatty.IsTerminal(os.Stderr.Fd()) {
		cfg := zap.NewDevelopmentConfig()
		if !debug {
			cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
		}
		return cfg.Build()
	}
	return zap.NewProduction()
}

// newClient builds a session client from configuration.
func newClient() (*hnap.Client, error) {
	address := viper.GetString("address")
	if address == "" {
		return nil, errors.New("no device address: set --address, HNAP_ADDRESS or address in the config file")
	}
	policy, err := hnap.ParseNonSOAPPolicy(viper.GetString("nonsoap_policy"))
	if err != nil {
		return nil, err
	}

	topts := []soap.Option{
		soap.WithTimeout(viper.GetDuration("request_timeout")),
		soap.WithLogger(logger),
	}
	if viper.GetBool("https") {
		topts = append(topts, soap.WithHTTPS())
	}

	return hnap.New(soap.New(address, topts...),
		hnap.Credentials{
			Address:  address,
			Username: viper.GetString("username"),
			Password: viper.GetString("password"),
		},
		hnap.WithLogger(logger),
		hnap.WithNonSOAPPolicy(policy),
		hnap.WithCallRecord(metrics.RecordCall),
		hnap.WithLoginRecord(metrics.RecordLogin),
		hnap.WithReauthRecord(metrics.RecordReauth),
	)
}

// commandContext cancels on SIGINT/SIGTERM.
func commandContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

// ── login ────────────────────────────────────────────────────────────────────

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Log in and report whether the credentials are accepted",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		ctx, cancel := commandContext()
		defer cancel()

		if err := c.Login(ctx); err != nil {
			printFailure("login failed: %v", err)
			return err
		}
		printSuccess("logged in to %s", c.Address())
		return nil
	},
}

// ── actions ──────────────────────────────────────────────────────────────────

var actionsCmd = &cobra.Command{
	Use:   "actions",
	Short: "List the actions the device supports",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		ctx, cancel := commandContext()
		defer cancel()

		actions, err := c.DeviceActions(ctx)
		if err != nil {
			return fmt.Errorf("list device actions: %w", err)
		}
		return printList(os.Stdout, outputFormat, "Supported actions:", actions)
	},
}

var moduleActionsCmd = &cobra.Command{
	Use:   "module-actions",
	Short: "List the actions a module supports",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		ctx, cancel := commandContext()
		defer cancel()

		moduleID := viper.GetInt("module_id")
		actions, err := c.ModuleActions(ctx, moduleID)
		if err != nil {
			return fmt.Errorf("list module %d actions: %w", moduleID, err)
		}
		return printList(os.Stdout, outputFormat, fmt.Sprintf("Module %d actions:", moduleID), actions)
	},
}

// ── call ─────────────────────────────────────────────────────────────────────

var callCmd = &cobra.Command{
	Use:   "call <Action> [Name=Value ...]",
	Short: "Invoke an arbitrary HNAP action",
	Long: `call invokes any action by name. Parameters are sent in the order given:

  hnap call GetMotionDetectorLogs ModuleID=1 MaxCount=1 PageOffset=1 StartTime=0 EndTime=All`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		params, err := parseParams(args[1:])
		if err != nil {
			return err
		}
		c, err := newClient()
		if err != nil {
			return err
		}
		ctx, cancel := commandContext()
		defer cancel()

		resp, err := c.Call(ctx, args[0], params)
		if err != nil {
			return fmt.Errorf("call %s: %w", args[0], err)
		}
		return printResponse(os.Stdout, outputFormat, resp)
	},
}

// parseParams turns Name=Value arguments into ordered params.
func parseParams(args []string) (hnap.Params, error) {
	params := make(hnap.Params, 0, len(args))
	for _, a := range args {
		name, value, ok := strings.Cut(a, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid parameter %q: want Name=Value", a)
		}
		params = append(params, hnap.Param{Name: name, Value: value})
	}
	return params, nil
}

// ── version ──────────────────────────────────────────────────────────────────

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the CLI version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("hnap %s\n", version)
	},
}
