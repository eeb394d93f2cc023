package main

import (
	"context"
	"fmt"

	"fileshare/pkg/admin"
	"fileshare/pkg/registry"
	"fileshare/pkg/storage"

	"github.com/spf13/cobra"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

func indexCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "index [storage-dir]",
		Short: "List a storage directory offline, as the server would index it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := setupLogger(verbose)
			defer logger.Sync()

			backend, err := storage.New(args[0], logger.Named("storage"))
			if err != nil {
				return err
			}

			reg := registry.New(logger.Named("registry"))
			if _, err := reg.Rebuild(backend); err != nil {
				return err
			}

			files, err := backend.List()
			if err != nil {
				return err
			}
			if len(files) == 0 {
				fmt.Println(mutedStyle.Render("No files available."))
				return nil
			}

			fmt.Println(renderStoredFiles(files))
			fmt.Println(mutedStyle.Render(fmt.Sprintf("%d owners", len(reg.Owners()))))
			return nil
		},
	}
	return cmd
}

func healthCmd() *cobra.Command {
	var (
		adminAddress string
		service      string
	)

	cmd := &cobra.Command{
		Use:   "health",
		Short: "Probe a server's gRPC health endpoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), admin.DefaultProbeTimeout)
			defer cancel()

			status, err := admin.Probe(ctx, adminAddress, service)
			if err != nil {
				fmt.Println(dangerStyle.Render("UNREACHABLE"))
				return err
			}

			if status != healthpb.HealthCheckResponse_SERVING {
				fmt.Println(warningStyle.Render(status.String()))
				return fmt.Errorf("server is %s", status)
			}
			fmt.Println(successStyle.Render(status.String()))
			return nil
		},
	}

	cmd.Flags().StringVar(&adminAddress, "admin-address", "localhost:9091", "admin endpoint address")
	cmd.Flags().StringVar(&service, "service", admin.ServiceName, "service name to check")
	return cmd
}
