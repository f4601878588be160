package commands

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/glidepush/glidepush/pkg/config"
	"github.com/glidepush/glidepush/pkg/deploy"
)

func newWatchCommand() *cobra.Command {
	var (
		mode          string
		env           map[string]string
		strategyNames []string
		debounce      time.Duration
	)

	cmd := &cobra.Command{
		Use:   "watch [manifest-path]",
		Short: "Redeploy the manifest whenever it changes",
		Long: `Deploy the manifest, then keep watching it and redeploy on every change.

Each cycle re-parses the manifest, re-runs transforms, and deploys the
artifacts in dependency order with full verification. A failed cycle is
reported and the watch continues. User policies reload on change too when
policy.watch is enabled in the workspace config.

The instance profile is fixed when the watch starts; changing it in the
manifest requires a restart.`,
		Example: `  # Watch the manifest in the current directory
  glidepush watch

  # Watch a manifest directory with transform variables
  glidepush watch ./manifest --env stage=dev

  # Slow down redeploys for noisy editors
  glidepush watch ./manifest --debounce 5s`,
		Args:         cobra.MaximumNArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			path := "."
			if len(args) > 0 {
				path = args[0]
			}

			ws, err := openWorkspace(buildVersion)
			if err != nil {
				return err
			}
			defer ws.Close()

			parser := config.NewManifestParser()
			manifest, err := parser.Parse(ctx, []string{path})
			if err != nil {
				return err
			}
			profName, prof, err := ws.resolveProfile(manifest.Deployment.Profile)
			if err != nil {
				return err
			}
			orch, err := ws.orchestrator(ctx, profName, prof, strategyNames)
			if err != nil {
				return err
			}
			if err := ws.watchPolicies(ctx); err != nil {
				return err
			}
			if err := ws.metrics.StartMetricsServer(); err != nil {
				return err
			}

			opts := config.PlanOptions{Mode: deploy.Mode(mode), Env: env}
			redeploy := func() {
				deployOnce(ctx, parser, orch, path, opts)
			}

			fmt.Printf("Watching %s (profile %s), deploying on change\n\n", path, profName)
			redeploy()

			if err := watchManifest(ctx, path, debounce, redeploy); err != nil {
				return err
			}
			fmt.Println("\nWatch stopped")
			return nil
		},
	}

	cmd.Flags().StringVarP(&mode, "mode", "m", "", "deployment mode (immediate, planned)")
	cmd.Flags().StringToStringVarP(&env, "env", "e", nil, "variables passed to manifest transforms")
	cmd.Flags().StringSliceVar(&strategyNames, "strategy", nil, "restrict the strategy chain")
	cmd.Flags().DurationVar(&debounce, "debounce", 2*time.Second, "quiet period before redeploying")

	return cmd
}

// deployOnce runs one watch cycle. Failures are reported, never fatal:
// the next save gets a fresh chance.
func deployOnce(ctx context.Context, parser *config.ManifestParser, orch *deploy.Orchestrator, path string, opts config.PlanOptions) {
	manifest, err := parser.Parse(ctx, []string{path})
	if err != nil {
		log.Error().Err(err).Msg("Parsing manifest failed")
		return
	}
	if manifest.HasErrors() {
		printManifestErrors(manifest)
		return
	}

	items, err := parser.PlanItems(ctx, manifest, opts)
	if err != nil {
		log.Error().Err(err).Msg("Building plan items failed")
		return
	}
	plan, err := deploy.NewPlanBuilder().Build(items)
	if err != nil {
		log.Error().Err(err).Msg("Building plan failed")
		return
	}

	result, err := orch.DeployPlan(ctx, plan)
	if err != nil {
		if ctx.Err() == nil {
			log.Error().Err(err).Msg("Deployment cycle failed")
		}
		return
	}
	printPlanResult(result)
}

// watchManifest blocks watching the manifest path, invoking redeploy
// after each debounced burst of file events. Watching the containing
// directory instead of the file itself survives editors that replace the
// file on save.
func watchManifest(ctx context.Context, path string, debounce time.Duration, redeploy func()) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating file watcher: %w", err)
	}
	defer watcher.Close()

	dir := path
	if info, err := os.Stat(path); err == nil && !info.IsDir() {
		dir = filepath.Dir(path)
	}
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watching %s: %w", dir, err)
	}

	var mu sync.Mutex
	var timer *time.Timer

	for {
		select {
		case <-ctx.Done():
			mu.Lock()
			if timer != nil {
				timer.Stop()
			}
			mu.Unlock()
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			log.Debug().Str("file", event.Name).Str("op", event.Op.String()).
				Msg("Manifest change detected")

			// Editors fire several events per save; collapse the burst
			// into one redeploy after the quiet period.
			mu.Lock()
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(debounce, func() {
				if ctx.Err() != nil {
					return
				}
				fmt.Printf("\nManifest changed, redeploying\n\n")
				redeploy()
			})
			mu.Unlock()

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Warn().Err(err).Msg("File watcher error")
		}
	}
}
