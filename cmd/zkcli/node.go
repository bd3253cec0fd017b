package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	zk "github.com/QuangTung97/zksession"
)

func getCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "get <path>",
		Short: "Print the data of a node",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return flags.withClient(func(ctx context.Context, client *zk.Client) error {
				resp, err := await(ctx, func(cb func(zk.GetResponse, error)) {
					client.Get(args[0], cb)
				})
				if err != nil {
					return err
				}
				fmt.Println(string(resp.Data))
				return nil
			})
		},
	}
}

func setCmd(flags *globalFlags) *cobra.Command {
	var version int32

	cmd := &cobra.Command{
		Use:   "set <path> <data>",
		Short: "Replace the data of a node",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return flags.withClient(func(ctx context.Context, client *zk.Client) error {
				resp, err := await(ctx, func(cb func(zk.SetResponse, error)) {
					client.Set(args[0], []byte(args[1]), version, cb)
				})
				if err != nil {
					return err
				}
				printStat(resp.Stat)
				return nil
			})
		},
	}

	cmd.Flags().Int32Var(&version, "version", -1, "expected version, -1 matches any")
	return cmd
}

func parseACL(name string) ([]zk.ACL, error) {
	switch name {
	case "world":
		return zk.OpenACLUnsafe, nil
	case "creator":
		return zk.CreatorAllACL, nil
	case "read":
		return zk.ReadACLUnsafe, nil
	default:
		return nil, fmt.Errorf("unknown acl %q, expected world, creator or read", name)
	}
}

func createCmd(flags *globalFlags) *cobra.Command {
	var ephemeral bool
	var sequence bool
	var aclName string

	cmd := &cobra.Command{
		Use:   "create <path> [data]",
		Short: "Create a node",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			acl, err := parseACL(aclName)
			if err != nil {
				return err
			}

			var data []byte
			if len(args) > 1 {
				data = []byte(args[1])
			}

			var mode int32
			if ephemeral {
				mode |= zk.FlagEphemeral
			}
			if sequence {
				mode |= zk.FlagSequence
			}

			return flags.withClient(func(ctx context.Context, client *zk.Client) error {
				resp, err := await(ctx, func(cb func(zk.CreateResponse, error)) {
					client.Create(args[0], data, mode, acl, cb)
				})
				if err != nil {
					return err
				}
				fmt.Println(resp.Path)
				return nil
			})
		},
	}

	cmd.Flags().BoolVarP(&ephemeral, "ephemeral", "e", false, "delete the node when the session ends")
	cmd.Flags().BoolVar(&sequence, "sequence", false, "append a sequence number to the name")
	cmd.Flags().StringVar(&aclName, "acl", "world", "acl of the node: world, creator or read")
	return cmd
}

func rmCmd(flags *globalFlags) *cobra.Command {
	var version int32

	cmd := &cobra.Command{
		Use:   "rm <path>",
		Short: "Delete a node",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return flags.withClient(func(ctx context.Context, client *zk.Client) error {
				_, err := await(ctx, func(cb func(zk.DeleteResponse, error)) {
					client.Delete(args[0], version, cb)
				})
				return err
			})
		},
	}

	cmd.Flags().Int32Var(&version, "version", -1, "expected version, -1 matches any")
	return cmd
}

func lsCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "ls <path>",
		Short: "List the children of a node",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return flags.withClient(func(ctx context.Context, client *zk.Client) error {
				resp, err := await(ctx, func(cb func(zk.ChildrenResponse, error)) {
					client.Children(args[0], cb)
				})
				if err != nil {
					return err
				}
				for _, child := range resp.Children {
					fmt.Println(child)
				}
				return nil
			})
		},
	}
}

func statCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "stat <path>",
		Short: "Print the metadata of a node",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return flags.withClient(func(ctx context.Context, client *zk.Client) error {
				resp, err := await(ctx, func(cb func(zk.ExistsResponse, error)) {
					client.Exists(args[0], cb)
				})
				if err != nil {
					return err
				}
				printStat(resp.Stat)
				return nil
			})
		},
	}
}

func mkdirpCmd(flags *globalFlags) *cobra.Command {
	var aclName string

	cmd := &cobra.Command{
		Use:   "mkdirp <path>",
		Short: "Create a node and its missing parents",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			acl, err := parseACL(aclName)
			if err != nil {
				return err
			}
			return flags.withClient(func(ctx context.Context, client *zk.Client) error {
				_, err := await(ctx, func(cb func(struct{}, error)) {
					client.Mkdirp(args[0], acl, func(err error) {
						cb(struct{}{}, err)
					})
				})
				return err
			})
		},
	}

	cmd.Flags().StringVar(&aclName, "acl", "world", "acl of created nodes: world, creator or read")
	return cmd
}

func formatTime(ms int64) string {
	return time.UnixMilli(ms).UTC().Format(time.RFC3339)
}

func printStat(stat zk.Stat) {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	rows := []string{
		fmt.Sprintf("czxid\t%s", stat.Czxid),
		fmt.Sprintf("mzxid\t%s", stat.Mzxid),
		fmt.Sprintf("pzxid\t%s", stat.Pzxid),
		fmt.Sprintf("ctime\t%s", formatTime(stat.Ctime)),
		fmt.Sprintf("mtime\t%s", formatTime(stat.Mtime)),
		fmt.Sprintf("version\t%d", stat.Version),
		fmt.Sprintf("cversion\t%d", stat.Cversion),
		fmt.Sprintf("aversion\t%d", stat.Aversion),
		fmt.Sprintf("ephemeralOwner\t0x%x", stat.EphemeralOwner),
		fmt.Sprintf("dataLength\t%d", stat.DataLength),
		fmt.Sprintf("numChildren\t%d", stat.NumChildren),
	}
	_, _ = fmt.Fprintln(w, strings.Join(rows, "\n"))
	_ = w.Flush()
}
