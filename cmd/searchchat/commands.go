package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"searchchat-backend/internal/auth"
	"searchchat-backend/internal/client"
	"searchchat-backend/internal/models"
)

type rootOptions struct {
	server string
	token  string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "searchchat",
		Short:         "Ask questions against a searchchat server",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&opts.server, "server", envOr("SEARCHCHAT_SERVER", "http://localhost:8080"), "server base URL")
	cmd.PersistentFlags().StringVar(&opts.token, "token", os.Getenv("SEARCHCHAT_TOKEN"), "bearer token")

	cmd.AddCommand(newAskCmd(opts), newChatCmd(opts), newHealthCmd(opts), newTokenCmd())
	return cmd
}

func newAskCmd(opts *rootOptions) *cobra.Command {
	var topK int
	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Ask a single question and stream the answer",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()
			c := client.New(opts.server, opts.token)
			req := &models.TurnRequest{Question: strings.Join(args, " "), TopK: topK}
			_, err := runTurn(ctx, c, req, cmd.OutOrStdout())
			return err
		},
	}
	cmd.Flags().IntVar(&topK, "top-k", 0, "passages to retrieve (server default when 0)")
	return cmd
}

func newChatCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive conversation (/new resets, /quit exits)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c := client.New(opts.server, opts.token)
			return chatLoop(cmd.Context(), c, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
}

// conversation is the client-held state carried between turns.
type conversation struct {
	context *models.Context
	history []models.Message
}

func (c *conversation) next(question string) *models.TurnRequest {
	return &models.TurnRequest{
		Question:        question,
		IsFollowUp:      c.context != nil,
		PreviousContext: c.context,
		MessageHistory:  c.history,
	}
}

func (c *conversation) record(question string, resp *models.TurnResponse) {
	if resp == nil || !resp.Success {
		return
	}
	c.context = resp.Context
	c.history = append(c.history,
		models.Message{Role: models.RoleUser, Content: question},
		models.Message{Role: models.RoleModel, Content: resp.Answer},
	)
}

func chatLoop(ctx context.Context, c *client.Client, in io.Reader, out io.Writer) error {
	conv := &conversation{}
	sc := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "> ")
		if !sc.Scan() {
			fmt.Fprintln(out)
			return sc.Err()
		}
		question := strings.TrimSpace(sc.Text())
		switch question {
		case "":
			continue
		case "/quit", "/exit":
			return nil
		case "/new":
			conv = &conversation{}
			fmt.Fprintln(out, "(new conversation)")
			continue
		}

		turnCtx, stop := signal.NotifyContext(ctx, os.Interrupt)
		resp, err := runTurn(turnCtx, c, conv.next(question), out)
		stop()
		var apiErr *client.APIError
		switch {
		case err == nil:
		case errors.Is(err, client.ErrDegraded), errors.As(err, &apiErr), errors.Is(err, context.Canceled):
			fmt.Fprintln(out, "error:", err)
		default:
			return err
		}
		conv.record(question, resp)
	}
}

// runTurn streams one turn to out and prints the suggestions.
func runTurn(ctx context.Context, c *client.Client, req *models.TurnRequest, out io.Writer) (*models.TurnResponse, error) {
	resp, err := c.Ask(ctx, req, func(delta string) {
		fmt.Fprint(out, delta)
	})
	if resp == nil {
		return nil, err
	}
	if !resp.Success {
		fmt.Fprint(out, resp.Answer)
	}
	fmt.Fprintln(out)
	if resp.Success {
		fmt.Fprintf(out, "  [%s context, confidence %.2f, %d ms]\n", resp.Grounding, resp.ConfidenceScore, resp.ProcessingTimeMs)
	}
	for i, s := range resp.Suggestions {
		fmt.Fprintf(out, "  %d. %s\n", i+1, s)
	}
	return resp, err
}

func newHealthCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Show server health",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			h, err := client.New(opts.server, opts.token).Health(cmd.Context())
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(h); err != nil {
				return err
			}
			if h.Status != "healthy" {
				return fmt.Errorf("server is %s", h.Status)
			}
			return nil
		},
	}
}

func newTokenCmd() *cobra.Command {
	var (
		secret  string
		subject string
		name    string
		ttl     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a development bearer token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if secret == "" {
				return errors.New("--secret or JWT_SECRET is required")
			}
			token, err := auth.NewAccessToken(subject, name, secret, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&secret, "secret", os.Getenv("JWT_SECRET"), "signing secret")
	cmd.Flags().StringVar(&subject, "subject", "dev", "token subject")
	cmd.Flags().StringVar(&name, "name", "", "display name")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	return cmd
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
