package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	zk "github.com/QuangTung97/zksession"
	"github.com/QuangTung97/zksession/concurrency"
	"github.com/QuangTung97/zksession/curator"
)

// electCmd contends for the leadership of parent until interrupted, printing
// the current leader every time a new session starts.
func electCmd(flags *globalFlags) *cobra.Command {
	var nodeID string

	cmd := &cobra.Command{
		Use:   "elect <parent>",
		Short: "Take part in the leader election among the children of parent",
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
			parent := args[0]

			errCh := make(chan error, 1)
			reportErr := func(err error) {
				select {
				case errCh <- err:
				default:
				}
			}

			e := concurrency.NewElection(parent, nodeID, func(sess *curator.Session) {
				fmt.Println("elected:", nodeID)
			}, concurrency.WithLockErrorHandler(reportErr))

			reporter := curator.New(func(sess *curator.Session) {
				sess.Run(func(client curator.Client) {
					concurrency.Leader(client, parent, func(leader string, err error) {
						if err != nil && !errors.Is(err, zk.ErrNoNode) {
							reportErr(err)
							return
						}
						fmt.Println("current leader:", leader)
					})
				})
			})

			factory := curator.NewClientFactory([]string{cfg.Connect}, "", "", opts...)
			if err := factory.Start(e.Curator(), reporter); err != nil {
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
	return cmd
}
