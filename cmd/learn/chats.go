package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

var chatsCmd = &cobra.Command{
	Use:   "chats",
	Short: "List your chats",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := loadSession(cmd)
		if err != nil {
			return err
		}
		chats, err := s.api.ListChats(cmd.Context(), s.creds.UserID())
		if err != nil {
			return err
		}
		if len(chats) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No chats yet. Start one with: learn new-chat")
			return nil
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tCREATED")
		for _, c := range chats {
			fmt.Fprintf(w, "%s\t%s\t%s\n", c.ID, c.ChatName, c.CreatedAt.Local().Format(time.DateTime))
		}
		return w.Flush()
	},
}

var newChatCmd = &cobra.Command{
	Use:   "new-chat",
	Short: "Create a chat",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := loadSession(cmd)
		if err != nil {
			return err
		}
		name, _ := cmd.Flags().GetString("name")
		chat, err := s.api.CreateChat(cmd.Context(), s.creds.UserID(), name)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Created %q: %s\n", chat.ChatName, chat.ID)
		return nil
	},
}

var quizzesCmd = &cobra.Command{
	Use:   "quizzes",
	Short: "List your finished quizzes",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := loadSession(cmd)
		if err != nil {
			return err
		}
		quizzes, err := s.api.ListQuizzes(cmd.Context(), s.creds.UserID())
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tSCORE\tTAKEN")
		for _, q := range quizzes {
			fmt.Fprintf(w, "%s\t%d/%d\t%s\n", q.ID, q.Score, len(q.Questions), q.CreatedAt.Local().Format(time.DateTime))
		}
		return w.Flush()
	},
}

func init() {
	newChatCmd.Flags().String("name", "", "Chat name (defaults to \"New Chat\")")
}
