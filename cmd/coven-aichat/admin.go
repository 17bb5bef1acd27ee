// ABOUTME: Operator commands that read and edit the bot's database
// ABOUTME: Lists open conversations and inspects or sets friend affinity

package main

import (
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/2389/coven-aichat/internal/store"
)

// openStore loads the config and opens the database it points to
func openStore(cmd *cobra.Command) (*store.SQLiteStore, error) {
	cfg, _, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	st, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}
	return st, nil
}

func newConversationsCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:     "conversations",
		Aliases: []string{"convs"},
		Short:   "List open conversations, newest first",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, err := openStore(cmd)
			if err != nil {
				return err
			}
			defer st.Close()

			convs, err := st.ListConversations(cmd.Context(), limit)
			if err != nil {
				return err
			}
			printConversations(cmd.OutOrStdout(), convs, time.Now())
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum conversations to show")
	return cmd
}

func printConversations(out io.Writer, convs []*store.Conversation, now time.Time) {
	if len(convs) == 0 {
		fmt.Fprintln(out, "No open conversations.")
		return
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ANCHOR\tPROVIDER\tGROUNDING\tORIGIN\tTURNS\tAGE")
	for _, c := range convs {
		provider := c.Provider
		if provider == "" {
			provider = "gemini"
		}
		origin := "random"
		if c.FromMention {
			origin = "mention"
		}
		fmt.Fprintf(tw, "%s\t%s\t%t\t%s\t%d\t%s\n",
			c.AnchorPostID, provider, c.Grounding, origin, len(c.History)/2,
			now.Sub(c.CreatedAt).Truncate(time.Second))
	}
	tw.Flush()
}

func newFriendCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "friend",
		Short: "Inspect or edit how the bot feels about a user",
	}
	cmd.AddCommand(newFriendGetCmd())
	cmd.AddCommand(newFriendSetCmd())
	return cmd
}

func newFriendGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get USER_ID",
		Short: "Show a friend's name and love",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStore(cmd)
			if err != nil {
				return err
			}
			defer st.Close()

			f, err := st.GetFriend(cmd.Context(), args[0])
			if errors.Is(err, store.ErrNotFound) {
				return fmt.Errorf("user %s has never talked to the bot", args[0])
			}
			if err != nil {
				return err
			}
			printFriend(cmd.OutOrStdout(), f)
			return nil
		},
	}
}

func newFriendSetCmd() *cobra.Command {
	var (
		love int
		name string
	)

	cmd := &cobra.Command{
		Use:   "set USER_ID",
		Short: "Set a friend's love or the name the bot calls them",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			loveSet := cmd.Flags().Changed("love")
			nameSet := cmd.Flags().Changed("name")
			if !loveSet && !nameSet {
				return errors.New("nothing to set: pass --love and/or --name")
			}

			st, err := openStore(cmd)
			if err != nil {
				return err
			}
			defer st.Close()

			ctx := cmd.Context()
			if loveSet {
				if err := st.SetFriendLove(ctx, args[0], love); err != nil {
					return err
				}
			}
			if nameSet {
				if err := st.SetFriendName(ctx, args[0], name); err != nil {
					return err
				}
			}

			f, err := st.GetFriend(ctx, args[0])
			if err != nil {
				return err
			}
			printFriend(cmd.OutOrStdout(), f)
			return nil
		},
	}

	cmd.Flags().IntVar(&love, "love", 0, fmt.Sprintf("Affinity score (0-%d)", store.MaxLove))
	cmd.Flags().StringVar(&name, "name", "", "Name the bot uses for this user; empty clears it")
	return cmd
}

func printFriend(out io.Writer, f *store.Friend) {
	name := f.Name
	if name == "" {
		name = color.HiBlackString("(profile name)")
	}
	fmt.Fprintf(out, "user:  %s\n", f.UserID)
	fmt.Fprintf(out, "name:  %s\n", name)
	fmt.Fprintf(out, "love:  %d/%d\n", f.Love, store.MaxLove)
	if f.LastLoveAt != nil {
		fmt.Fprintf(out, "last:  %s\n", f.LastLoveAt.Local().Format(time.DateTime))
	}
}
