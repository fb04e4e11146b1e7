package main

import (
	"errors"

	"github.com/spf13/cobra"

	"stepllm/internal/chat"
	"stepllm/internal/llm"
)

func newChatCmd(a *app) *cobra.Command {
	var (
		o      genOptions
		format string
		system string
		user   []string
	)
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Generate the assistant reply to a conversation",
		Long: "Builds a chat prompt from --system and --user messages and prints the reply.\n" +
			"Repeat --user for several user turns.",
		Example: "  stepllm chat -m llama-2-7b-chat.Q4_0.gguf --system 'Be brief.' --user 'Write a haiku about Go.'",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(user) == 0 {
				return errors.New("at least one --user message is required")
			}
			name := format
			if name == "" {
				name = a.cfg.ChatFormat
			}
			style, err := chat.ParseStyle(name)
			if err != nil {
				return err
			}
			var msgs []chat.Message
			if system != "" {
				msgs = append(msgs, chat.Message{Role: chat.RoleSystem, Content: system})
			}
			for _, u := range user {
				msgs = append(msgs, chat.Message{Role: chat.RoleUser, Content: u})
			}
			return a.withRuntime(o.model, func(rt *llm.Runtime, sess *llm.Session) error {
				if err := rt.SetPromptFromMessages(sess, msgs, style); err != nil {
					return err
				}
				return a.runGeneration(cmd.Context(), cmd.OutOrStdout(), rt, sess, o)
			})
		},
	}
	o.register(cmd)
	f := cmd.Flags()
	f.StringVar(&format, "format", "", "Chat format: turn|llama2 (defaults to the configured chat_format)")
	f.StringVar(&system, "system", "", "System message")
	f.StringArrayVar(&user, "user", nil, "User message (repeatable)")
	return cmd
}
