package commands

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/glidepush/glidepush/pkg/bundle"
	"github.com/glidepush/glidepush/pkg/config"
	"github.com/glidepush/glidepush/pkg/deploy"
	"github.com/glidepush/glidepush/pkg/transports/sftp"
)

func newExportCommand() *cobra.Command {
	var (
		outFile     string
		bundleName  string
		description string
		env         map[string]string
		push        bool
	)

	cmd := &cobra.Command{
		Use:   "export [manifest-path]",
		Short: "Export artifacts as an update set bundle",
		Long: `Build the manifest's artifacts into a retrieved update set XML bundle
without deploying anything.

The bundle carries one sys_remote_update_set row plus one sys_update_xml
member per artifact, the exact format the platform's own export produces.
It can be imported by hand (upload, preview, commit) or dropped on an ops
file share with --push.`,
		Example: `  # Export to the default bundle directory
  glidepush export ./manifest

  # Export to a specific file
  glidepush export ./manifest --out release-42.xml

  # Export and upload to the configured SFTP share
  glidepush export ./manifest --name release-42 --push`,
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
			if manifest.HasErrors() {
				printManifestErrors(manifest)
				return fmt.Errorf("manifest %s has validation errors", path)
			}

			items, err := parser.PlanItems(ctx, manifest, config.PlanOptions{Env: env})
			if err != nil {
				return err
			}

			if bundleName == "" {
				bundleName = "glidepush-" + time.Now().Format("20060102-150405")
			}
			if description == "" {
				description = fmt.Sprintf("Exported from %s (%d artifacts)", path, len(items))
			}

			b, err := bundle.Build(bundleName, description, bundleItems(items))
			if err != nil {
				return err
			}
			data, err := b.XML()
			if err != nil {
				return err
			}

			target := outFile
			if target == "" {
				dir := ws.cfg.Export.Dir
				if dir == "" {
					dir = "."
				}
				target = filepath.Join(dir, sanitizeFileName(bundleName)+".xml")
			}
			if dir := filepath.Dir(target); dir != "." {
				if err := os.MkdirAll(dir, 0755); err != nil {
					return fmt.Errorf("creating export directory %s: %w", dir, err)
				}
			}
			if err := os.WriteFile(target, data, 0644); err != nil {
				return fmt.Errorf("writing bundle %s: %w", target, err)
			}

			fmt.Printf("✓ Exported %d artifact(s) as update set %q\n", len(b.Members), b.Name)
			fmt.Printf("  file: %s (%d bytes, update set sys_id %s)\n", target, len(data), b.SysID)

			if push {
				if err := pushBundle(cmd, ws.cfg.Export.SFTP, target); err != nil {
					return err
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&outFile, "out", "o", "", "output file path (default: export dir + bundle name)")
	cmd.Flags().StringVar(&bundleName, "name", "", "update set name (default: timestamped)")
	cmd.Flags().StringVar(&description, "description", "", "update set description")
	cmd.Flags().StringToStringVarP(&env, "env", "e", nil, "variables passed to manifest transforms")
	cmd.Flags().BoolVar(&push, "push", false, "upload the bundle to the configured SFTP share")

	return cmd
}

// bundleItems converts plan items into bundle items, carrying the
// transformed definitions.
func bundleItems(items []deploy.PlanItem) []bundle.Item {
	out := make([]bundle.Item, 0, len(items))
	for _, item := range items {
		out = append(out, bundle.Item{
			Kind:       item.Request.Kind,
			Name:       item.Request.Name,
			Definition: item.Request.Definition,
			SysID:      item.Request.SysID,
		})
	}
	return out
}

// pushBundle uploads an exported bundle to the configured SFTP share and
// reports what the share says landed.
func pushBundle(cmd *cobra.Command, settings config.SFTPSettings, localPath string) error {
	if settings.Host == "" {
		return fmt.Errorf("no SFTP share configured (set export.sftp.host in %s)", configFileHint())
	}

	scfg := sftp.DefaultConfig(settings.Host, settings.Username)
	if settings.Port > 0 {
		scfg.Port = settings.Port
	}
	scfg.Password = settings.Password
	scfg.PrivateKeyPath = settings.PrivateKeyPath
	if settings.RemoteDir != "" {
		scfg.RemoteDir = settings.RemoteDir
	}
	if d := settings.Timeout.Std(); d > 0 {
		scfg.ConnectTimeout = d
	}

	uploader, err := sftp.NewUploader(scfg)
	if err != nil {
		return err
	}
	if err := uploader.Connect(cmd.Context()); err != nil {
		return err
	}
	defer func() {
		if err := uploader.Disconnect(); err != nil {
			log.Warn().Err(err).Msg("SFTP disconnect failed")
		}
	}()

	result, err := uploader.Upload(cmd.Context(), localPath)
	if err != nil {
		return err
	}

	fmt.Printf("✓ Uploaded to %s:%s (%d bytes, sha256 %s, %s)\n",
		scfg.Host, result.RemotePath, result.BytesTransferred,
		result.Checksum, result.Duration.Round(timePrecision))
	return nil
}

// sanitizeFileName makes a bundle name safe as a file name.
func sanitizeFileName(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '-' || r == '_' || r == '.':
			return r
		default:
			return '-'
		}
	}, name)
}
