package main

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"reqline/internal/app"
	"reqline/internal/domain"
	"reqline/internal/engine"
	"reqline/internal/repo"
	"reqline/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "rq",
	Short: "Reqline CLI",
	Long: `Reqline routes client requests to the right specialists.
- Submit: a client request is validated and broadcast to its category channel.
- Claim: the first specialist to claim wins; everyone else is told who got there first.
- Resolve: the claimant finishes the request (done) or cancels with a note, which
  reopens the request under a fresh reference for someone else to claim.
- Roster: specialists and their category grants live in the workspace database.
The workspace is the .reqline directory next to reqline.yml; run 'rq init' to seed one.`,
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("REQLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "acting specialist or operator id")
	rootCmd.PersistentFlags().String("actor-name", "", "acting specialist display name")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
	_ = viper.BindPFlag("actor-name", rootCmd.PersistentFlags().Lookup("actor-name"))
}

func registerCommands() {
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(submitCmd())
	rootCmd.AddCommand(claimCmd())
	rootCmd.AddCommand(doneCmd())
	rootCmd.AddCommand(cancelCmd())
	rootCmd.AddCommand(showCmd())
	rootCmd.AddCommand(recategorizeCmd())
	rootCmd.AddCommand(deleteCmd())
	rootCmd.AddCommand(listCmd())
	rootCmd.AddCommand(myCmd())
	rootCmd.AddCommand(specialistCmd())
	rootCmd.AddCommand(tokenCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(exportCmd())
	rootCmd.AddCommand(apikeyCmd())
	rootCmd.AddCommand(serveCmd())
}

func actor() domain.Identity {
	id := viper.GetString("actor-id")
	name := viper.GetString("actor-name")
	if name == "" {
		name = id
	}
	return domain.Identity{ID: id, DisplayName: name}
}

func initCmd() *cobra.Command {
	var service string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize a workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := app.Init(viper.GetString("workspace"), service)
			if err != nil {
				return err
			}
			fmt.Printf("Initialized workspace; edit %s to configure categories, tokens and webhooks.\n", path)
			return nil
		},
	}
	cmd.Flags().StringVar(&service, "service", "", "service name (defaults to the directory name)")
	return cmd
}

func statusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Request counts by status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				counts, err := e.Repo.CountRequestsByStatus(ctx)
				if err != nil {
					return err
				}
				out := map[string]any{
					"service":        e.Config.Service.Name,
					"request_counts": counts,
				}
				if viper.GetBool("json") {
					return printJSON(out)
				}
				fmt.Printf("Service: %s\n", e.Config.Service.Name)
				fmt.Println("Requests:")
				for _, status := range []string{domain.StatusPending, domain.StatusInProgress, domain.StatusDone} {
					fmt.Printf("  %s: %d\n", status, counts[status])
				}
				return nil
			})
		},
	}
	return cmd
}

func submitCmd() *cobra.Command {
	var opts engine.SubmitOptions
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit a client request",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				rq, err := e.Submit(ctx, opts)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(rq)
				}
				fmt.Printf("Submitted %s as %s (%s)\n", rq.ID, rq.PublicRef, rq.Category)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&opts.Name, "name", "", "client name")
	cmd.Flags().StringVar(&opts.Phone, "phone", "", "client phone")
	cmd.Flags().StringVar(&opts.City, "city", "", "client city")
	cmd.Flags().StringVar(&opts.Description, "description", "", "request description")
	cmd.Flags().StringVar(&opts.Category, "category", "", "request category")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("phone")
	_ = cmd.MarkFlagRequired("category")
	return cmd
}

func claimCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "claim <ref>",
		Short: "Claim a pending request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				rq, tok, err := e.Claim(ctx, args[0], actor())
				var blocked engine.DeliveryBlockedError
				if errors.As(err, &blocked) {
					fmt.Printf("Claimed %s, but the private delivery is blocked.\n", rq.PublicRef)
					fmt.Printf("Handoff token: %s\n", blocked.Token)
					return nil
				}
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"request": rq, "handoff_token": tok})
				}
				fmt.Printf("Claimed %s (%s, %s)\n", rq.PublicRef, rq.Name, rq.Category)
				fmt.Printf("Handoff token: %s\n", tok)
				return nil
			})
		},
	}
	return cmd
}

func doneCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "done <ref>",
		Short: "Resolve a claimed request as done",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				rq, err := e.ResolveDone(ctx, args[0], actor())
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(rq)
				}
				fmt.Printf("Done: %s (%s)\n", rq.ID, rq.Name)
				return nil
			})
		},
	}
	return cmd
}

func cancelCmd() *cobra.Command {
	var note string
	cmd := &cobra.Command{
		Use:   "cancel <ref>",
		Short: "Cancel a claim and reopen the request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				rq, err := e.ResolveCancel(ctx, args[0], actor(), note)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(rq)
				}
				fmt.Printf("Reopened %s as %s\n", rq.ID, rq.PublicRef)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&note, "note", "", "cancellation reason")
	_ = cmd.MarkFlagRequired("note")
	return cmd
}

func showCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <ref-or-id>",
		Short: "Show a request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				rq, err := e.Repo.GetByPublicRef(ctx, args[0])
				if errors.Is(err, repo.ErrNotFound) {
					rq, err = e.Repo.GetRequest(ctx, args[0])
				}
				if err != nil {
					return err
				}
				return printJSONOrTable(rq)
			})
		},
	}
	return cmd
}

func recategorizeCmd() *cobra.Command {
	var category string
	cmd := &cobra.Command{
		Use:   "recategorize <ref>",
		Short: "Move a request to another category",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				rq, err := e.Recategorize(ctx, args[0], category)
				if err != nil {
					return err
				}
				return printJSONOrTable(rq)
			})
		},
	}
	cmd.Flags().StringVar(&category, "category", "", "target category")
	_ = cmd.MarkFlagRequired("category")
	return cmd
}

func deleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <ref>",
		Short: "Delete a request (spam or test submissions)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.Delete(ctx, args[0], actor())
			})
		},
	}
	return cmd
}

func listCmd() *cobra.Command {
	var f repo.RequestFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List requests",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListRequests(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				renderRequestTable(items)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.Status, "status", "", "status filter (PENDING, IN_PROGRESS, DONE)")
	cmd.Flags().StringVar(&f.Category, "category", "", "category filter")
	cmd.Flags().StringVar(&f.ClaimantID, "claimant", "", "claimant filter")
	cmd.Flags().IntVar(&f.Limit, "limit", 100, "max rows")
	return cmd
}

func myCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "my",
		Short: "Requests currently claimed by you",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListByClaimant(ctx, actor().ID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				renderRequestTable(items)
				return nil
			})
		},
	}
	return cmd
}

func specialistCmd() *cobra.Command {
	sp := &cobra.Command{Use: "specialist", Short: "Manage the specialist roster"}
	sp.AddCommand(specialistAddCmd())
	sp.AddCommand(specialistListCmd())
	sp.AddCommand(specialistShowCmd())
	sp.AddCommand(specialistGrantCmd())
	sp.AddCommand(specialistActiveCmd())
	sp.AddCommand(specialistDeleteCmd())
	return sp
}

func specialistAddCmd() *cobra.Command {
	var id, name string
	var categories []string
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Register or update a specialist",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				sp, err := e.RegisterSpecialist(ctx, id, name, categories)
				if err != nil {
					return err
				}
				return printJSONOrTable(sp)
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "specialist id")
	cmd.Flags().StringVar(&name, "name", "", "display name")
	cmd.Flags().StringSliceVar(&categories, "category", nil, "category grant (repeatable)")
	_ = cmd.MarkFlagRequired("id")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func specialistListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List specialists",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListSpecialists(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Active", "Categories"})
				for _, sp := range items {
					tw.AppendRow(table.Row{sp.ID, sp.DisplayName, sp.Active, strings.Join(sp.Categories, ",")})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func specialistShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a specialist",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				sp, err := e.Repo.GetSpecialist(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(sp)
			})
		},
	}
	return cmd
}

func specialistGrantCmd() *cobra.Command {
	var categories []string
	cmd := &cobra.Command{
		Use:   "grant <id>",
		Short: "Replace a specialist's category grants",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				sp, err := e.GrantCategories(ctx, args[0], categories)
				if err != nil {
					return err
				}
				return printJSONOrTable(sp)
			})
		},
	}
	cmd.Flags().StringSliceVar(&categories, "category", nil, "category grant (repeatable)")
	return cmd
}

func specialistActiveCmd() *cobra.Command {
	var active bool
	cmd := &cobra.Command{
		Use:   "active <id>",
		Short: "Activate or deactivate a specialist",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if err := e.Repo.SetSpecialistActive(ctx, args[0], active); err != nil {
					return err
				}
				sp, err := e.Repo.GetSpecialist(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(sp)
			})
		},
	}
	cmd.Flags().BoolVar(&active, "set", true, "active state")
	return cmd
}

func specialistDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a specialist",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.Repo.DeleteSpecialist(ctx, args[0])
			})
		},
	}
	return cmd
}

func tokenCmd() *cobra.Command {
	tok := &cobra.Command{Use: "token", Short: "Handoff tokens"}
	tok.AddCommand(tokenVerifyCmd())
	return tok
}

func tokenVerifyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "verify <token>",
		Short: "Resolve a handoff token to its request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				rq, err := e.LookupToken(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(rq)
			})
		},
	}
	return cmd
}

func logCmd() *cobra.Command {
	logC := &cobra.Command{Use: "log", Short: "Audit event log"}
	logC.AddCommand(logTailCmd())
	return logC
}

func logTailCmd() *cobra.Command {
	var n int
	var evtType, entityID string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				events, err := e.Repo.LatestEvents(ctx, n, evtType, "", entityID)
				if err != nil {
					return err
				}
				return printJSONOrTable(events)
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	cmd.Flags().StringVar(&entityID, "entity-id", "", "entity id")
	return cmd
}

func exportCmd() *cobra.Command {
	var f repo.RequestFilters
	var out string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export requests as CSV",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListRequests(ctx, f)
				if err != nil {
					return err
				}
				dest := os.Stdout
				if out != "" {
					file, err := os.Create(out)
					if err != nil {
						return err
					}
					defer file.Close()
					dest = file
				}
				w := csv.NewWriter(dest)
				if err := w.Write([]string{"id", "public_ref", "category", "name", "phone", "city", "description", "status", "claimant", "note", "created_at", "updated_at"}); err != nil {
					return err
				}
				for _, rq := range items {
					claimant, note := "", ""
					if rq.ClaimantName != nil {
						claimant = *rq.ClaimantName
					}
					if rq.ResolutionNote != nil {
						note = *rq.ResolutionNote
					}
					if err := w.Write([]string{rq.ID, rq.PublicRef, rq.Category, rq.Name, rq.Phone, rq.City, rq.Description, rq.Status, claimant, note, rq.CreatedAt, rq.UpdatedAt}); err != nil {
						return err
					}
				}
				w.Flush()
				return w.Error()
			})
		},
	}
	cmd.Flags().StringVar(&f.Status, "status", "", "status filter")
	cmd.Flags().StringVar(&f.Category, "category", "", "category filter")
	cmd.Flags().StringVar(&out, "out", "", "output file (default stdout)")
	return cmd
}

func apikeyCmd() *cobra.Command {
	key := &cobra.Command{Use: "apikey", Short: "API keys for the HTTP server"}
	key.AddCommand(apikeyCreateCmd())
	key.AddCommand(apikeyListCmd())
	key.AddCommand(apikeyDeleteCmd())
	return key
}

func apikeyCreateCmd() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an API key for the acting specialist",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				secret := uuid.NewString()
				rec := domain.APIKey{
					ID:        uuid.NewString(),
					ActorID:   actor().ID,
					Name:      name,
					KeyHash:   repo.HashAPIKey(secret),
					CreatedAt: time.Now().UTC().Format(time.RFC3339),
				}
				if err := e.Repo.InsertAPIKey(ctx, rec); err != nil {
					return err
				}
				// The plain key is shown only once.
				fmt.Printf("API key %s created for %s:\n%s\n", rec.ID, rec.ActorID, secret)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "key label")
	return cmd
}

func apikeyListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List API keys for the acting specialist",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListAPIKeys(ctx, actor().ID)
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
	return cmd
}

func apikeyDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.Repo.DeleteAPIKey(ctx, args[0])
			})
		},
	}
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := app.Open(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			defer a.Close()
			authCfg := server.AuthConfig{JWTSecret: os.Getenv("REQLINE_JWT_SECRET")}
			if authCfg.JWTSecret == "" {
				return fmt.Errorf("REQLINE_JWT_SECRET is required for bearer auth")
			}
			handler, err := server.New(server.Config{Engine: a.Engine, BasePath: basePath, Auth: authCfg})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving Reqline API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", addr, basePath, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	return cmd
}

// --- helpers ---

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	a, err := app.Open(viper.GetString("workspace"))
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a.Engine)
}

func renderRequestTable(items []domain.Request) {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"Ref", "Category", "Name", "City", "Status", "Claimant", "Created"})
	for _, rq := range items {
		claimant := ""
		if rq.ClaimantName != nil {
			claimant = *rq.ClaimantName
		}
		tw.AppendRow(table.Row{rq.PublicRef, rq.Category, rq.Name, rq.City, rq.Status, claimant, rq.CreatedAt})
	}
	tw.Render()
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
