package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/c360studio/specauthority/authority"
	"github.com/c360studio/specauthority/pipeline"
	"github.com/c360studio/specauthority/source"
)

// printJSON writes v to stdout as indented JSON.
func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

func newRegisterCmd(flags *globalFlags) *cobra.Command {
	var (
		content string
		ref     string
	)

	cmd := &cobra.Command{
		Use:   "register <product>",
		Short: "Register spec content as a draft version",
		Long: `Register spec content for a product. Content comes from --content, from a
--ref (a file under the source root or an HTTPS URL), or from stdin.
Registration is idempotent: content identical to an existing version resolves
to that version.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), flags)
			if err != nil {
				return err
			}
			defer a.Close()

			if content == "" && ref == "" {
				data, err := io.ReadAll(os.Stdin)
				if err != nil {
					return fmt.Errorf("read stdin: %w", err)
				}
				content = string(data)
			}

			result, err := a.registry.Register(cmd.Context(), args[0], content, ref)
			if err != nil {
				return err
			}
			return printJSON(map[string]any{
				"version_id":   result.Version.ID,
				"product":      result.Version.Product,
				"content_hash": result.Version.ContentHash,
				"status":       result.Version.Status,
				"created":      result.Created,
			})
		},
	}

	cmd.Flags().StringVar(&content, "content", "", "Inline spec content")
	cmd.Flags().StringVar(&ref, "ref", "", "Content ref: file path under the source root, or an HTTPS URL")
	return cmd
}

func newApproveCmd(flags *globalFlags) *cobra.Command {
	var (
		approver string
		notes    string
	)

	cmd := &cobra.Command{
		Use:   "approve <version-id>",
		Short: "Approve a draft spec version and freeze its content",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), flags)
			if err != nil {
				return err
			}
			defer a.Close()

			version, err := a.registry.Approve(cmd.Context(), args[0], approver, notes)
			if err != nil {
				return err
			}
			return printJSON(map[string]any{
				"version_id":  version.ID,
				"product":     version.Product,
				"status":      version.Status,
				"approver":    version.Approver,
				"approved_at": version.ApprovedAt,
			})
		},
	}

	cmd.Flags().StringVar(&approver, "by", "", "Approver identity")
	cmd.Flags().StringVar(&notes, "notes", "", "Approval notes")
	return cmd
}

func newCompileCmd(flags *globalFlags) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "compile <version-id>",
		Short: "Compile an approved spec version into a cached authority",
		Long: `Compile an approved spec version through the external model. Without
--force an existing cached authority is returned without an external call.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), flags)
			if err != nil {
				return err
			}
			defer a.Close()

			result, err := a.compiler.Compile(cmd.Context(), args[0], force)
			if err != nil {
				return err
			}
			if err := printJSON(result); err != nil {
				return err
			}
			if result.Failure != nil {
				return fmt.Errorf("compilation blocked: %s", result.Failure.Reason)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Recompile even when a cached authority exists")
	return cmd
}

func newAcceptCmd(flags *globalFlags) *cobra.Command {
	return newDecisionCmd(flags, "accept", "Record an accepted gate decision for a compiled version", authority.AcceptanceAccepted)
}

func newRejectCmd(flags *globalFlags) *cobra.Command {
	return newDecisionCmd(flags, "reject", "Record a rejected gate decision for a compiled version", authority.AcceptanceRejected)
}

func newDecisionCmd(flags *globalFlags, use, short string, status authority.AcceptanceStatus) *cobra.Command {
	var (
		product   string
		decidedBy string
		rationale string
		auto      bool
	)

	cmd := &cobra.Command{
		Use:   use + " <version-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), flags)
			if err != nil {
				return err
			}
			defer a.Close()

			policy := authority.PolicyHuman
			if auto {
				policy = authority.PolicyAuto
			}

			decide := a.gate.Accept
			if status == authority.AcceptanceRejected {
				decide = a.gate.Reject
			}
			recordID, err := decide(cmd.Context(), product, args[0], policy, decidedBy, rationale)
			if err != nil {
				return err
			}
			return printJSON(map[string]any{
				"record_id":  recordID,
				"version_id": args[0],
				"status":     status,
				"policy":     policy,
			})
		},
	}

	cmd.Flags().StringVar(&product, "product", "", "Product the version belongs to")
	cmd.Flags().StringVar(&decidedBy, "by", "", "Decider identity")
	cmd.Flags().StringVar(&rationale, "rationale", "", "Decision rationale")
	cmd.Flags().BoolVar(&auto, "auto", false, "Record as an automatic policy decision")
	_ = cmd.MarkFlagRequired("product")
	return cmd
}

func newStatusCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "status <product>",
		Short: "Resolve the authority status of a product",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), flags)
			if err != nil {
				return err
			}
			defer a.Close()

			status, err := a.gate.Resolve(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(status)
		},
	}
}

func newVersionsCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "versions <product>",
		Short: "List every spec version of a product",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), flags)
			if err != nil {
				return err
			}
			defer a.Close()

			versions, err := a.registry.ListByProduct(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(versions)
		},
	}
}

func newHistoryCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "history <version-id>",
		Short: "Print the acceptance ledger for a spec version",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), flags)
			if err != nil {
				return err
			}
			defer a.Close()

			records, err := a.gate.History(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(records)
		},
	}
}

func newValidateCmd(flags *globalFlags) *cobra.Command {
	var (
		storyPath string
		versionID string
	)

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate a story against an accepted spec version",
		Long: `Run the validator chain over a story (JSON file) bound to an explicit spec
version. Evidence is persisted for every attempt, pass or fail. The binding is
never defaulted: --version is required.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), flags)
			if err != nil {
				return err
			}
			defer a.Close()

			story, err := readStory(storyPath)
			if err != nil {
				return err
			}

			record, err := a.recorder.Record(cmd.Context(), story, versionID)
			if err != nil {
				return err
			}
			if err := printJSON(record); err != nil {
				return err
			}
			if !record.Passed {
				return fmt.Errorf("validation failed with %d violation(s)", len(record.Failures))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&storyPath, "story", "", "Path to the story JSON file")
	cmd.Flags().StringVar(&versionID, "version", "", "Spec version ID to validate against")
	_ = cmd.MarkFlagRequired("story")
	_ = cmd.MarkFlagRequired("version")
	return cmd
}

func readStory(path string) (*authority.Story, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read story: %w", err)
	}
	var story authority.Story
	if err := json.Unmarshal(data, &story); err != nil {
		return nil, fmt.Errorf("parse story: %w", err)
	}
	return &story, nil
}

func newRunCmd(flags *globalFlags) *cobra.Command {
	var requestsPath string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the story pipeline over a batch of feature requests",
		Long: `Run generation and validation for a batch of feature requests (JSON array).
Each request carries its own spec version binding; units fail independently.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), flags)
			if err != nil {
				return err
			}
			defer a.Close()

			data, err := os.ReadFile(requestsPath)
			if err != nil {
				return fmt.Errorf("read requests: %w", err)
			}
			var reqs []pipeline.FeatureRequest
			if err := json.Unmarshal(data, &reqs); err != nil {
				return fmt.Errorf("parse requests: %w", err)
			}

			results := a.runner.Run(cmd.Context(), reqs)
			fmt.Print(pipeline.Summarize(results))

			accepted := 0
			for _, res := range results {
				if res.State == pipeline.StateAccepted {
					accepted++
				}
			}
			if accepted < len(results) {
				return fmt.Errorf("%d of %d unit(s) did not reach acceptance", len(results)-accepted, len(results))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&requestsPath, "requests", "", "Path to the feature requests JSON file")
	_ = cmd.MarkFlagRequired("requests")
	return cmd
}

func newWatchCmd(flags *globalFlags) *cobra.Command {
	var product string

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Watch the source root and register changed spec files",
		Long: `Watch the configured source root for spec file changes and register each
changed file as a draft version. Without --product, the product is derived
from the file's top-level directory, or its base name at the root.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), flags)
			if err != nil {
				return err
			}
			defer a.Close()

			watcherCfg := source.DefaultWatcherConfig()
			if len(a.cfg.Sources.Globs) > 0 {
				watcherCfg.Globs = a.cfg.Sources.Globs
			}
			if a.cfg.Sources.Debounce > 0 {
				watcherCfg.Debounce = a.cfg.Sources.Debounce
			}

			watcher, err := source.NewWatcher(watcherCfg, a.cfg.Sources.Root, a.logger)
			if err != nil {
				return err
			}

			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			if err := watcher.Start(ctx); err != nil {
				return err
			}
			defer func() { _ = watcher.Stop() }()

			a.logger.Info("Watching for spec changes",
				"root", a.cfg.Sources.Root,
				"globs", strings.Join(watcherCfg.Globs, ","))

			for {
				select {
				case <-ctx.Done():
					return nil
				case event, ok := <-watcher.Events():
					if !ok {
						return nil
					}
					a.registerEvent(ctx, event, product)
				}
			}
		},
	}

	cmd.Flags().StringVar(&product, "product", "", "Register every change under this product")
	return cmd
}

// registerEvent registers one watched file change as a draft version. Errors
// are logged, not fatal; the watch loop keeps running.
func (a *app) registerEvent(ctx context.Context, event source.WatchEvent, product string) {
	if product == "" {
		product = productForPath(event.Path)
	}

	result, err := a.registry.Register(ctx, product, "", "file:"+event.Path)
	if err != nil {
		a.logger.Error("Failed to register changed spec",
			"path", event.Path,
			"error", err.Error())
		return
	}
	if !result.Created {
		a.logger.Debug("Spec change already registered",
			"path", event.Path,
			"version", result.Version.ID)
		return
	}
	a.logger.Info("Registered changed spec",
		"path", event.Path,
		"product", product,
		"version", result.Version.ID)
}

// productForPath derives a product name from a path relative to the source
// root: the top-level directory when nested, the file stem otherwise.
func productForPath(rel string) string {
	rel = filepath.ToSlash(rel)
	if i := strings.IndexByte(rel, '/'); i > 0 {
		return rel[:i]
	}
	base := filepath.Base(rel)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
