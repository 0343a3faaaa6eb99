package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"voice-tutor/internal/app"
	"voice-tutor/internal/artifacts"
	"voice-tutor/internal/config"
	"voice-tutor/internal/history"
	"voice-tutor/internal/repository"
	"voice-tutor/internal/usecase"
)

// newRootCmd creates the root command. Configuration is loaded once before
// any subcommand runs.
func newRootCmd() *cobra.Command {
	cfg := &config.Config{}

	rootCmd := &cobra.Command{
		Use:           "tutorctl",
		Short:         "Operate the voice tutor conversation store and pipeline",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			loaded, err := config.Load()
			if err != nil {
				return err
			}
			if db, _ := cmd.Flags().GetString("db"); db != "" {
				loaded.DatabasePath = db
			}
			*cfg = loaded
			return nil
		},
	}
	rootCmd.PersistentFlags().String("db", "", "SQLite database path (overrides DATABASE_PATH)")

	rootCmd.AddCommand(newMigrateCmd(cfg))
	rootCmd.AddCommand(newUserCmd(cfg))
	rootCmd.AddCommand(newSessionCmd(cfg))
	rootCmd.AddCommand(newHistoryCmd(cfg))
	rootCmd.AddCommand(newConverseCmd(cfg))
	rootCmd.AddCommand(newAudioCmd(cfg))
	rootCmd.AddCommand(newVoiceCmd(cfg))
	rootCmd.AddCommand(newAuditCmd(cfg))
	return rootCmd
}

// withSQL runs fn against the relational store. Users, voices, audit and
// migrations only exist there.
func withSQL(cfg *config.Config, fn func(*repository.Store) error) error {
	if cfg.StoreBackend != config.StoreSQLite {
		return fmt.Errorf("this command requires STORE_BACKEND=%s", config.StoreSQLite)
	}
	store, err := repository.Open(cfg.DatabasePath)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()
	return fn(store)
}

func withStore(ctx context.Context, cfg *config.Config, fn func(app.ConversationStore) error) error {
	store, sqlStore, err := app.OpenStore(ctx, *cfg)
	if err != nil {
		return err
	}
	if sqlStore != nil {
		defer func() { _ = sqlStore.Close() }()
	}
	return fn(store)
}

func newMigrateCmd(cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create or drop the relational schema",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Create users, sessions, turns, voices and audit tables",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSQL(cfg, func(s *repository.Store) error {
				if err := s.MigrateUp(cmd.Context()); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "migrated up: %s\n", strings.Join(repository.MigrationOrder(), ", "))
				return nil
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "down",
		Short: "Drop every table in reverse dependency order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSQL(cfg, func(s *repository.Store) error {
				if err := s.MigrateDown(cmd.Context()); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "migrated down")
				return nil
			})
		},
	})
	return cmd
}

func newUserCmd(cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage users",
	}
	create := &cobra.Command{
		Use:   "create",
		Short: "Create a user and print its id",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			name, _ := cmd.Flags().GetString("name")
			email, _ := cmd.Flags().GetString("email")
			role, _ := cmd.Flags().GetString("role")
			return withSQL(cfg, func(s *repository.Store) error {
				u, err := s.CreateUser(cmd.Context(), optional(name), optional(email), role)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%d\n", u.ID)
				return nil
			})
		},
	}
	create.Flags().String("name", "", "display name")
	create.Flags().String("email", "", "unique email address")
	create.Flags().String("role", "", "role (defaults to user)")
	cmd.AddCommand(create)
	return cmd
}

func newSessionCmd(cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Manage conversation sessions",
	}

	create := &cobra.Command{
		Use:   "create [SESSION_ID]",
		Short: "Create a session; a UUID is generated when no id is given",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sessionID := uuid.NewString()
			if len(args) == 1 {
				sessionID = args[0]
			}
			var userID *int64
			if cmd.Flags().Changed("user") {
				id, _ := cmd.Flags().GetInt64("user")
				userID = &id
			}
			return withStore(cmd.Context(), cfg, func(s app.ConversationStore) error {
				sess, err := s.CreateSession(cmd.Context(), sessionID, userID)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), sess.ID)
				return nil
			})
		},
	}
	create.Flags().Int64("user", 0, "owning user id")

	show := &cobra.Command{
		Use:   "show SESSION_ID",
		Short: "Print a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), cfg, func(s app.ConversationStore) error {
				sess, err := s.GetSession(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				owner := "-"
				if sess.UserID != nil {
					owner = fmt.Sprint(*sess.UserID)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\tuser=%s\t%s\n", sess.ID, sess.Status, owner, sess.CreatedAt.Format("2006-01-02T15:04:05Z07:00"))
				return nil
			})
		},
	}

	status := &cobra.Command{
		Use:   "status SESSION_ID STATUS",
		Short: "Change a session's status",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSQL(cfg, func(s *repository.Store) error {
				return s.UpdateSessionStatus(cmd.Context(), args[0], args[1])
			})
		},
	}

	del := &cobra.Command{
		Use:   "delete SESSION_ID",
		Short: "Delete a session and all of its turns",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), cfg, func(s app.ConversationStore) error {
				return s.DeleteSession(cmd.Context(), args[0])
			})
		},
	}

	cmd.AddCommand(create, show, status, del)
	return cmd
}

func newHistoryCmd(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "history SESSION_ID",
		Short: "Print a session's conversation in order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), cfg, func(s app.ConversationStore) error {
				projector, err := history.NewProjector(s)
				if err != nil {
					return err
				}
				msgs, err := projector.Project(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				for _, m := range msgs {
					fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", m.Role, m.Content)
				}
				return nil
			})
		},
	}
}

func newConverseCmd(cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "converse SESSION_ID",
		Short: "Run one round-trip through the configured engines",
		Long: `Run one transcription, generation and synthesis round-trip and persist both turns.
Example: tutorctl converse s1 --audio question.wav --out reply.wav`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			audioPath, _ := cmd.Flags().GetString("audio")
			text, _ := cmd.Flags().GetString("text")
			outPath, _ := cmd.Flags().GetString("out")
			if (audioPath == "") == (text == "") {
				return errors.New("exactly one of --audio or --text is required")
			}

			in := usecase.ConverseInput{SessionID: args[0], Text: text}
			if audioPath != "" {
				audio, err := os.ReadFile(audioPath)
				if err != nil {
					return err
				}
				in.Audio = audio
			}

			a, err := app.Build(cmd.Context(), *cfg, nil)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			out, err := a.Service.Converse(cmd.Context(), in)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "user: %s\n", out.Transcript)
			fmt.Fprintf(w, "assistant: %s\n", out.Reply)
			if out.STTMs != nil {
				fmt.Fprintf(w, "stt_ms=%d ", *out.STTMs)
			}
			fmt.Fprintf(w, "llm_ms=%d tts_ms=%d\n", out.LLMMs, out.TTSMs)
			if out.AudioURL != nil {
				fmt.Fprintf(w, "audio_url=%s\n", *out.AudioURL)
			}
			if outPath != "" {
				if err := os.WriteFile(outPath, out.Audio, 0o644); err != nil {
					return err
				}
			}
			return nil
		},
	}
	cmd.Flags().String("audio", "", "path to the spoken question (WAV)")
	cmd.Flags().String("text", "", "typed question; skips transcription")
	cmd.Flags().String("out", "", "write the synthesized reply to this path")
	return cmd
}

func newAudioCmd(cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audio REF",
		Short: "Copy a stored reply (an audio_url) out of AUDIO_DIR",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if cfg.AudioDir == "" {
				return errors.New("AUDIO_DIR is not set")
			}
			dir, err := artifacts.NewAudioDir(cfg.AudioDir)
			if err != nil {
				return err
			}
			src, err := dir.Open(args[0])
			if err != nil {
				return err
			}
			defer func() { _ = src.Close() }()

			outPath, _ := cmd.Flags().GetString("out")
			if outPath == "" {
				_, err = io.Copy(cmd.OutOrStdout(), src)
				return err
			}
			dst, err := os.Create(outPath)
			if err != nil {
				return err
			}
			if _, err := io.Copy(dst, src); err != nil {
				_ = dst.Close()
				return err
			}
			return dst.Close()
		},
	}
	cmd.Flags().String("out", "", "write to this path instead of stdout")
	return cmd
}

func newVoiceCmd(cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "voice",
		Short: "Manage synthesis voice profiles",
	}
	add := &cobra.Command{
		Use:   "add NAME REF",
		Short: "Register a voice profile",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			description, _ := cmd.Flags().GetString("description")
			return withSQL(cfg, func(s *repository.Store) error {
				v, err := s.CreateVoice(cmd.Context(), args[0], optional(description), args[1])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%d\n", v.ID)
				return nil
			})
		},
	}
	add.Flags().String("description", "", "free-form description")

	list := &cobra.Command{
		Use:   "list",
		Short: "List voice profiles",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSQL(cfg, func(s *repository.Store) error {
				voices, err := s.ListVoices(cmd.Context())
				if err != nil {
					return err
				}
				for _, v := range voices {
					fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", v.Name, v.Ref)
				}
				return nil
			})
		},
	}
	cmd.AddCommand(add, list)
	return cmd
}

func newAuditCmd(cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Print the most recent audit records",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			limit, _ := cmd.Flags().GetInt("limit")
			return withSQL(cfg, func(s *repository.Store) error {
				records, err := s.ListAudit(cmd.Context(), limit)
				if err != nil {
					return err
				}
				for _, r := range records {
					actor, details := "-", "{}"
					if r.Actor != nil {
						actor = *r.Actor
					}
					if r.DetailsJSON != nil {
						details = *r.DetailsJSON
					}
					fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\t%s\n", r.CreatedAt.Format("2006-01-02T15:04:05Z07:00"), actor, r.Action, details)
				}
				return nil
			})
		},
	}
	cmd.Flags().Int("limit", 20, "maximum number of records")
	return cmd
}

func optional(v string) *string {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	return &v
}
