package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"fileshare/pkg/client"
	"fileshare/pkg/types"
	"fileshare/pkg/utils"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// clientFlags are shared by every command that talks to a server.
type clientFlags struct {
	server string
	user   string
}

func (f *clientFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.server, "server", "", "server address (default from config or localhost:9090)")
	cmd.Flags().StringVarP(&f.user, "user", "u", "", "username to claim")
}

func (f *clientFlags) connect(ctx context.Context, logger *zap.Logger) (*client.Client, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	cc := cfg.Client
	if f.server != "" {
		cc.Address = f.server
	}
	if f.user != "" {
		cc.Username = f.user
	}
	if cc.Username == "" {
		return nil, fmt.Errorf("username is required (--user or FILESHARE_USER)")
	}

	dialCtx, cancel := context.WithTimeout(ctx, cc.DialTimeout)
	defer cancel()

	c, err := client.Dial(dialCtx, cc.Address, cc.Username, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s as %s: %w", cc.Address, cc.Username, err)
	}
	return c, nil
}

func lsCmd() *cobra.Command {
	var flags clientFlags

	cmd := &cobra.Command{
		Use:   "ls",
		Short: "List shared files",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := setupLogger(verbose)
			defer logger.Sync()

			c, err := flags.connect(cmd.Context(), logger)
			if err != nil {
				return err
			}
			defer c.Close()

			entries, err := c.List(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to list files: %w", err)
			}

			if len(entries) == 0 {
				fmt.Println(mutedStyle.Render("No files available."))
				return nil
			}
			fmt.Println(renderEntries(entries, c.Username()))
			return nil
		},
	}

	flags.register(cmd)
	return cmd
}

func uploadCmd() *cobra.Command {
	var flags clientFlags

	cmd := &cobra.Command{
		Use:   "upload [file...]",
		Short: "Upload local files under your username",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := setupLogger(verbose)
			defer logger.Sync()

			c, err := flags.connect(cmd.Context(), logger)
			if err != nil {
				return err
			}
			defer c.Close()

			for _, path := range args {
				if err := c.UploadFile(cmd.Context(), path); err != nil {
					return fmt.Errorf("failed to upload %s: %w", path, err)
				}
				info, _ := os.Stat(path)
				var size int64
				if info != nil {
					size = info.Size()
				}
				fmt.Printf("%s %s %s\n", successStyle.Render("✓"), path, mutedStyle.Render(utils.FormatDataSize(size)))
			}
			return nil
		},
	}

	flags.register(cmd)
	return cmd
}

func downloadCmd() *cobra.Command {
	var (
		flags  clientFlags
		outDir string
	)

	cmd := &cobra.Command{
		Use:   "download [owner] [file]",
		Short: "Download another user's file",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := setupLogger(verbose)
			defer logger.Sync()

			c, err := flags.connect(cmd.Context(), logger)
			if err != nil {
				return err
			}
			defer c.Close()

			owner, name := types.Username(args[0]), args[1]
			path, n, err := c.DownloadFile(cmd.Context(), name, owner, outDir)
			if err != nil {
				return fmt.Errorf("failed to download %s from %s: %w", name, owner, err)
			}
			fmt.Printf("%s %s %s\n", successStyle.Render("✓"), path, mutedStyle.Render(utils.FormatDataSize(n)))
			return nil
		},
	}

	flags.register(cmd)
	cmd.Flags().StringVarP(&outDir, "output", "o", ".", "directory to save into")
	return cmd
}

func rmCmd() *cobra.Command {
	var flags clientFlags

	cmd := &cobra.Command{
		Use:   "rm [file...]",
		Short: "Delete your own files",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := setupLogger(verbose)
			defer logger.Sync()

			c, err := flags.connect(cmd.Context(), logger)
			if err != nil {
				return err
			}
			defer c.Close()

			for _, name := range args {
				if err := c.Delete(cmd.Context(), name); err != nil {
					return fmt.Errorf("failed to delete %s: %w", name, err)
				}
				fmt.Printf("%s %s\n", successStyle.Render("✓"), name)
			}
			return nil
		},
	}

	flags.register(cmd)
	return cmd
}

func watchCmd() *cobra.Command {
	var flags clientFlags

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Stay connected and print download notifications",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := setupLogger(verbose)
			defer logger.Sync()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			c, err := flags.connect(ctx, logger)
			if err != nil {
				return err
			}
			defer c.Close()

			fmt.Println(mutedStyle.Render(fmt.Sprintf("Connected as %s, waiting for notifications...", c.Username())))

			for {
				select {
				case <-ctx.Done():
					return nil
				case ev, ok := <-c.Events():
					if !ok {
						fmt.Println(warningStyle.Render("Connection closed"))
						return nil
					}
					fmt.Println(renderEvent(ev))
					if ev.Type == client.EventDisconnect {
						return nil
					}
				}
			}
		},
	}

	flags.register(cmd)
	return cmd
}
