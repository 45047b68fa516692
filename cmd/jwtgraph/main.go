package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	formatter "github.com/bcgodev/logrus-formatter-gke"
	"github.com/mirror-media/jwtgraph/config"
	"github.com/mirror-media/jwtgraph/graph"
	"github.com/mirror-media/jwtgraph/token"
	"github.com/mirror-media/jwtgraph/transport"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func init() {
	logrus.SetFormatter(&formatter.GKELogFormatter{})
	logrus.SetReportCaller(true)
}

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		logrus.Fatal(err)
	}
}

func newRootCmd() *cobra.Command {
	var cfgFile string
	var cfg config.Conf

	root := &cobra.Command{
		Use:           "jwtgraph",
		Short:         "Run authenticated operations against a JWT protected GraphQL engine",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "decode" {
				return nil
			}
			var err error
			cfg, err = loadConf(cfgFile)
			if err != nil {
				return err
			}
			level, err := logrus.ParseLevel(cfg.LogLevel)
			if err != nil {
				return errors.Wrapf(err, "invalid log level(%s)", cfg.LogLevel)
			}
			logrus.SetLevel(level)
			return nil
		},
	}
	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ./configs/config.yaml)")

	root.AddCommand(newRunCmd(&cfg), newTokenCmd(&cfg), newDecodeCmd())
	return root
}

// loadConf reads the config file, then lets JWTGRAPH_* environment variables override it.
func loadConf(path string) (config.Conf, error) {
	v := viper.NewWithOptions(viper.KeyDelimiter("::"))
	if path != "" {
		v.SetConfigFile(path)
	} else {
		// name of config file (without extension)
		v.SetConfigName("config")
		v.AddConfigPath("./configs")
	}
	v.SetEnvPrefix("jwtgraph")
	v.SetEnvKeyReplacer(strings.NewReplacer("::", "_"))
	v.AutomaticEnv()

	defaults := config.DefaultConf()
	v.SetDefault("Scheme", defaults.Scheme)
	v.SetDefault("Timeout", defaults.Timeout)
	v.SetDefault("TokenStore", defaults.TokenStore)
	v.SetDefault("LogLevel", defaults.LogLevel)
	// keys need a default for AutomaticEnv to reach them through Unmarshal
	v.SetDefault("Domain", "")
	v.SetDefault("AccessToken", "")
	v.SetDefault("TokenSecret", "")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || path != "" {
			return config.Conf{}, errors.Wrap(err, "fatal error config file")
		}
		logrus.Info("no config file found, using defaults and environment")
	}

	var cfg config.Conf
	if err := v.Unmarshal(&cfg); err != nil {
		return config.Conf{}, errors.Wrap(err, "unable to decode into struct")
	}
	return cfg, nil
}

func newRunCmd(cfg *config.Conf) *cobra.Command {
	var query, variables string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a query or mutation and print its data",
		RunE: func(cmd *cobra.Command, args []string) error {
			if query == "" {
				return errors.New("query is required")
			}
			var vars map[string]interface{}
			if variables != "" {
				if err := json.Unmarshal([]byte(variables), &vars); err != nil {
					return errors.Wrap(err, "variables must be a JSON object")
				}
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), cfg.TimeoutDuration())
			defer cancel()

			client, err := graph.NewClientFromConf(ctx, *cfg, logrus.WithField("command", "run"))
			if err != nil {
				return err
			}
			defer client.Close()

			data, err := client.Run(ctx, query, vars)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return err
		},
	}
	cmd.Flags().StringVarP(&query, "query", "q", "", "GraphQL query or mutation")
	cmd.Flags().StringVarP(&variables, "variables", "v", "", "variables as a JSON object")
	return cmd
}

func newTokenCmd(cfg *config.Conf) *cobra.Command {
	return &cobra.Command{
		Use:   "token",
		Short: "Request a token with the configured access token and print it with its claims",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.Validate(); err != nil {
				return errors.Wrap(err, "invalid config")
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), cfg.TimeoutDuration())
			defer cancel()

			f := transport.New(
				transport.WithScheme(cfg.Scheme),
				transport.WithInsecureSkipVerify(cfg.InsecureSkipVerify),
				transport.WithTimeout(cfg.TimeoutDuration()),
			)
			state, err := token.RequestToken(ctx, f, token.NewMemoryStore(), cfg.Domain, cfg.AccessToken)
			if err != nil {
				return err
			}
			return printState(cmd, state.Token, state.Claims)
		},
	}
}

func newDecodeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "decode <token>",
		Short: "Print the claims of a token without verifying it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			claims, err := token.Decode(args[0])
			if err != nil {
				return err
			}
			return printState(cmd, args[0], claims)
		},
	}
}

func printState(cmd *cobra.Command, tok string, claims token.Claims) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(struct {
		Token     string                 `json:"token"`
		ExpiresAt time.Time              `json:"expiresAt"`
		Claims    map[string]interface{} `json:"claims"`
	}{
		Token:     tok,
		ExpiresAt: claims.ExpiresAt().UTC(),
		Claims:    claims.Fields,
	})
}
