package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/tmc/langchaingo/llms"

	"github.com/digimate-ai/digimate/internal/llm"
)

func newAskCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "ask <prompt>",
		Short: "Send one prompt to the completion backend and print the reply",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), a.cfg.Chat.CompletionTimeout)
			defer cancel()

			completer, err := newCompleter(ctx, a.cfg.LLM, a.logger)
			if err != nil {
				return err
			}
			prompt := strings.Join(args, " ")
			reply, err := completer.Complete(ctx, []llms.MessageContent{
				llms.TextParts(llms.ChatMessageTypeHuman, prompt),
			})
			if err != nil {
				return llm.Classify(err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), reply)
			return nil
		},
	}
}
