package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/QuangTung97/zksession/concurrency"
	"github.com/QuangTung97/zksession/curator"
)

// lockCmd holds a lock until interrupted. The lock is acquired again after
// every session expiry.
func lockCmd(flags *globalFlags) *cobra.Command {
	var nodeID string
	var username string
	var password string

	cmd := &cobra.Command{
		Use:   "lock <parent>",
		Short: "Acquire a lock on the children of parent and hold it until interrupted",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.loadConfig()
			if err != nil {
				return err
			}
			opts, err := cfg.Options()
			if err != nil {
				return err
			}
			opts = append(opts, flags.clientOptions(cfg)...)

			if nodeID == "" {
				nodeID = uuid.NewString()
			}
			fmt.Println("node id:", nodeID)

			errCh := make(chan error, 1)
			l := concurrency.NewLock(args[0], nodeID, func(sess *curator.Session) {
				fmt.Println("lock granted:", nodeID)
			}, concurrency.WithLockErrorHandler(func(err error) {
				select {
				case errCh <- err:
				default:
				}
			}))

			factory := curator.NewClientFactory([]string{cfg.Connect}, username, password, opts...)
			if err := factory.Start(l.Curator()); err != nil {
				return err
			}
			defer factory.Close()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			select {
			case <-ctx.Done():
				return nil
			case err := <-errCh:
				return err
			}
		},
	}

	cmd.Flags().StringVar(&nodeID, "id", "", "id of this contender, random by default")
	cmd.Flags().StringVar(&username, "user", "", "digest user owning the lock nodes")
	cmd.Flags().StringVar(&password, "password", "", "digest password")
	return cmd
}
