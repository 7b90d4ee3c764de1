package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/HatmanStack/pixel-prompt-complete-sub000/internal/blob"
	ctxwin "github.com/HatmanStack/pixel-prompt-complete-sub000/internal/context"
	"github.com/HatmanStack/pixel-prompt-complete-sub000/internal/engine"
	"github.com/HatmanStack/pixel-prompt-complete-sub000/internal/gateway"
	"github.com/HatmanStack/pixel-prompt-complete-sub000/internal/images"
	"github.com/HatmanStack/pixel-prompt-complete-sub000/internal/ratelimit"
	"github.com/HatmanStack/pixel-prompt-complete-sub000/internal/session"
	"github.com/HatmanStack/pixel-prompt-complete-sub000/internal/types"
)

func init() {
	rootCmd.AddCommand(sessionCmd)
	sessionCmd.AddCommand(sessionCreateCmd, sessionIterateCmd, sessionListCmd, sessionShowCmd, sessionClearCmd)
}

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Manage sessions",
}

func openSessionStore() (*session.Store, error) {
	cfg := loadConfig()
	blobs := blob.NewFileStore(filepath.Join(cfg.DataDir, "store"))
	return session.NewStore(blobs), nil
}

// openGateway wires the full generation stack for one-shot CLI runs.
// The returned close func must be called after the gateway's background
// work has drained.
func openGateway() (*gateway.Gateway, func(), error) {
	cfg := loadConfig()
	setupLogging(cfg)

	enabled := cfg.EnabledModels()
	if len(enabled) == 0 {
		return nil, nil, fmt.Errorf("no models configured: set at least one API key")
	}

	blobs := blob.NewFileStore(filepath.Join(cfg.DataDir, "store"))
	sessions := session.NewStore(blobs)
	contexts := ctxwin.NewManager(blobs)
	imageStore := images.NewStore(blobs)

	eng := engine.New(sessions, contexts, imageStore, buildRegistry(cfg),
		engine.WithMaxWorkers(int64(cfg.Engine.MaxWorkers)),
		engine.WithTaskTimeout(time.Duration(cfg.Engine.TaskTimeoutSeconds)*time.Second),
		engine.WithRetryDelay(time.Duration(cfg.Engine.RetryDelaySeconds)*time.Second),
	)
	limiter := ratelimit.New(blobs, cfg.RateLimit.GlobalLimit, cfg.RateLimit.CallerLimit, cfg.RateLimit.Whitelist)

	gw := gateway.New(sessions, contexts, imageStore, eng, limiter, enabled)
	ctx, cancel := context.WithCancel(context.Background())
	gw.Start(ctx)
	return gw, func() {
		gw.Stop()
		cancel()
	}, nil
}

func printSession(sess *types.Session) error {
	fmt.Printf("Session: %s\nPrompt:  %s\nStatus:  %s\nVersion: %d\n\n", sess.ID, sess.Prompt, sess.Status, sess.Version)

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "MODEL\tSTATUS\tITER\tPROMPT\tERROR")
	for _, model := range types.AllModels() {
		col := sess.Column(model)
		if col == nil || !col.Enabled {
			continue
		}
		if len(col.Iterations) == 0 {
			fmt.Fprintf(w, "%s\t%s\t-\t-\t-\n", model, col.Status)
			continue
		}
		for _, it := range col.Iterations {
			fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n", model, it.Status, it.Index, it.Prompt, it.Error)
		}
	}
	return w.Flush()
}

var sessionCreateCmd = &cobra.Command{
	Use:   "create <prompt>",
	Short: "Create a session and wait for generation to finish",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		gw, closeGw, err := openGateway()
		if err != nil {
			return err
		}
		defer closeGw()
		ctx := context.Background()

		sess, err := gw.CreateSession(ctx, "cli", strings.Join(args, " "))
		if err != nil {
			return fmt.Errorf("create session: %w", err)
		}
		fmt.Printf("Created session %s, generating...\n", sess.ID)
		gw.Wait()

		sess, err = gw.GetSession(ctx, sess.ID)
		if err != nil {
			return fmt.Errorf("get session: %w", err)
		}
		return printSession(sess)
	},
}

var sessionIterateCmd = &cobra.Command{
	Use:   "iterate <id> <model> <prompt>",
	Short: "Refine one model column and wait for the result",
	Args:  cobra.MinimumNArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		gw, closeGw, err := openGateway()
		if err != nil {
			return err
		}
		defer closeGw()
		ctx := context.Background()

		id := types.SessionID(args[0])
		model := types.ModelName(args[1])
		index, err := gw.Iterate(ctx, "cli", id, model, strings.Join(args[2:], " "))
		if err != nil {
			return fmt.Errorf("iterate: %w", err)
		}
		fmt.Printf("Started iteration %d on %s, generating...\n", index, model)
		gw.Wait()

		sess, err := gw.GetSession(ctx, id)
		if err != nil {
			return fmt.Errorf("get session: %w", err)
		}
		return printSession(sess)
	},
}

var sessionListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all sessions",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		sessions, err := openSessionStore()
		if err != nil {
			return err
		}

		list, err := sessions.List(context.Background())
		if err != nil {
			return fmt.Errorf("list sessions: %w", err)
		}
		if len(list) == 0 {
			fmt.Println("No sessions found.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tSTATUS\tPROMPT\tCREATED")
		for _, s := range list {
			prompt := s.Prompt
			if len(prompt) > 40 {
				prompt = prompt[:37] + "..."
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
				s.ID,
				s.Status,
				prompt,
				s.CreatedAt.Format("2006-01-02 15:04:05"),
			)
		}
		return w.Flush()
	},
}

var sessionShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a session's model columns",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sessions, err := openSessionStore()
		if err != nil {
			return err
		}

		sess, err := sessions.Get(context.Background(), types.SessionID(args[0]))
		if err != nil {
			return fmt.Errorf("get session: %w", err)
		}
		return printSession(sess)
	},
}

var sessionClearCmd = &cobra.Command{
	Use:   "clear <id|all>",
	Short: "Delete a session or all sessions",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sessions, err := openSessionStore()
		if err != nil {
			return err
		}
		ctx := context.Background()

		if args[0] == "all" {
			list, err := sessions.List(ctx)
			if err != nil {
				return fmt.Errorf("list sessions: %w", err)
			}
			for _, s := range list {
				if err := sessions.Delete(ctx, s.ID); err != nil {
					return fmt.Errorf("delete session %s: %w", s.ID, err)
				}
			}
			fmt.Printf("Deleted %d sessions.\n", len(list))
			return nil
		}

		if err := sessions.Delete(ctx, types.SessionID(args[0])); err != nil {
			return fmt.Errorf("delete session: %w", err)
		}
		fmt.Println("Session deleted.")
		return nil
	},
}
