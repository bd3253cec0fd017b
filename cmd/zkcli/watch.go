package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	zk "github.com/QuangTung97/zksession"
)

// watchCmd prints the changes of a node until interrupted. Watches are one
// shot, every event re-arms the watch with a new read.
func watchCmd(flags *globalFlags) *cobra.Command {
	var children bool

	cmd := &cobra.Command{
		Use:   "watch <path>",
		Short: "Print the changes of a node until interrupted",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := flags.newClient()
			if err != nil {
				return err
			}
			defer client.Close()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			path := args[0]
			errCh := make(chan error, 1)

			var watchData func()
			var watchChildren func()

			onEvent := func(rearm func()) func(ev zk.Event) {
				return func(ev zk.Event) {
					fmt.Printf("event %s %s\n", ev.Type, ev.Path)
					rearm()
				}
			}
			onError := func(err error) {
				select {
				case errCh <- err:
				default:
				}
			}

			watchData = func() {
				client.Exists(path, func(resp zk.ExistsResponse, err error) {
					if err != nil {
						if zk.CodeOf(err) == zk.CodeNoNode {
							fmt.Printf("%s does not exist\n", path)
							return
						}
						onError(err)
						return
					}
					fmt.Printf("%s version %d\n", path, resp.Stat.Version)
				}, zk.WithExistsWatch(onEvent(watchData)))
			}
			watchChildren = func() {
				client.Children(path, func(resp zk.ChildrenResponse, err error) {
					if err != nil {
						if zk.CodeOf(err) == zk.CodeNoNode {
							return
						}
						onError(err)
						return
					}
					fmt.Printf("%s children %v\n", path, resp.Children)
				}, zk.WithChildrenWatch(onEvent(watchChildren)))
			}

			watchData()
			if children {
				watchChildren()
			}

			select {
			case <-ctx.Done():
				return nil
			case err := <-errCh:
				return err
			}
		},
	}

	cmd.Flags().BoolVar(&children, "children", false, "also watch the children of the node")
	return cmd
}
