package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/davidmoltin/leadflow/internal/cli"
)

var (
	cfgFile    string
	apiURL     string
	apiToken   string
	outputJSON bool
)

var envKeyReplacer = strings.NewReplacer(".", "_")

var rootCmd = &cobra.Command{
	Use:   "leadflow",
	Short: "Leadflow CLI - Manage lead capture workflows",
	Long: `The Leadflow CLI allows you to scaffold, validate, dry-run, deploy
and inspect lead automation workflows from the command line.

Examples:
  leadflow init welcome-email --template welcome
  leadflow validate welcome-email.yaml
  leadflow test welcome-email.yaml
  leadflow deploy welcome-email.yaml
  leadflow list
  leadflow logs <execution-id>
  leadflow migrate up --config config.yaml`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		initConfig()
	},
}

func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.leadflow.yaml)")
	rootCmd.PersistentFlags().StringVar(&apiURL, "api-url", "http://localhost:8080", "Leadflow API URL")
	rootCmd.PersistentFlags().StringVar(&apiToken, "api-token", "", "API authentication token")
	rootCmd.PersistentFlags().BoolVar(&outputJSON, "json", false, "Output results in JSON format")

	viper.BindPFlag("api.url", rootCmd.PersistentFlags().Lookup("api-url"))
	viper.BindPFlag("api.token", rootCmd.PersistentFlags().Lookup("api-token"))
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Println(err)
			os.Exit(1)
		}

		viper.AddConfigPath(home)
		viper.SetConfigType("yaml")
		viper.SetConfigName(".leadflow")
	}

	// LEADFLOW_API_URL, LEADFLOW_API_TOKEN
	viper.SetEnvPrefix("LEADFLOW")
	viper.SetEnvKeyReplacer(envKeyReplacer)
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		if !outputJSON {
			fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
		}
	}
}

func newClient() *cli.Client {
	return cli.NewClient(viper.GetString("api.url"), viper.GetString("api.token"))
}

// connect returns an API client after checking the server is up
func connect() *cli.Client {
	client := newClient()
	if err := client.HealthCheck(); err != nil {
		fmt.Printf("❌ API health check failed: %v\n", err)
		fmt.Println("💡 Tip: Make sure the API server is running")
		os.Exit(1)
	}
	return client
}

func printJSON(v interface{}) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Printf("❌ Error encoding JSON: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(string(data))
}

func fail(format string, args ...interface{}) {
	fmt.Printf("❌ "+format+"\n", args...)
	os.Exit(1)
}
