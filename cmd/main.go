package main

import (
	"context"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"ec2inventory/awsd"
	"ec2inventory/cache"
	"ec2inventory/configuration"
	"ec2inventory/inventory"
	"ec2inventory/logger"
)

const (
	packageName = "main"
)

var (
	listMode     bool
	hostName     string
	refreshCache bool
	profileArg   string
	configFile   string
	yamlOutput   bool
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "ec2-inventory",
		Short:         "Produce an ansible dynamic inventory from EC2",
		Long:          "Queries EC2 across the configured regions and emits an ansible inventory document on stdout: every group membership plus _meta.hostvars, or a single host's variables with --host.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context())
		},
	}

	flags := cmd.Flags()
	flags.BoolVar(&listMode, "list", true, "List instances (default mode)")
	flags.StringVar(&hostName, "host", "", "Get all the variables about a specific instance")
	flags.BoolVar(&refreshCache, "refresh-cache", false, "Force refresh of cache by making API requests to EC2")
	flags.StringVar(&profileArg, "profile", "", "Use a shared-config profile for connections to EC2")
	flags.StringVar(&configFile, "config-file", "", "Config file to use for settings and credentials")
	flags.BoolVar(&yamlOutput, "yaml", false, "Output the inventory in YAML instead of JSON")

	return cmd
}

func run(ctx context.Context) error {
	log := zap.L().With(zap.String("package", packageName))

	settings, err := configuration.Initialize(configFile, profileArg)
	if err != nil {
		return err
	}
	if settings.LogLevel != "" && settings.LogLevel != "info" {
		if err := logger.Initialize(settings.LogLevel); err != nil {
			return err
		}
		log = zap.L().With(zap.String("package", packageName))
	}

	client, err := awsd.NewAWSClient(ctx, settings)
	if err != nil {
		return err
	}
	log.Info("AWS client created successfully",
		zap.String("operation", "aws_client_creation"),
	)

	var store inventory.Store
	if settings.EnableCaching {
		fileCache, err := cache.New(settings)
		if err != nil {
			log.Error("Failed to set up cache, continuing without it",
				zap.String("operation", "cache_setup"),
				zap.Error(err),
			)
		} else {
			store = fileCache
		}
	}

	service := inventory.NewService(client, store, settings)
	document, err := service.Run(ctx, inventory.RunOptions{
		Host:         hostName,
		RefreshCache: refreshCache,
		AsYAML:       yamlOutput,
	})
	if err != nil {
		return err
	}

	fmt.Println(document)
	return nil
}

// fail funnels every fatal condition into a single stderr message and
// a non-zero exit, the shape ansible-playbook expects.
func fail(err error) {
	logger.Sync()
	color.New(color.FgRed).Fprintf(os.Stderr, "ERROR: %v\n", err)
	os.Exit(1)
}

func main() {
	if err := logger.Initialize("info"); err != nil {
		panic(err)
	}
	defer logger.Sync()

	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fail(err)
	}
}
