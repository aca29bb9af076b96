package cmd

import (
	"archive/zip"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/Iron-Ham/tasktree/internal/modpack"
)

var infoCmd = &cobra.Command{
	Use:   "info <modpack.zip>",
	Short: "Show the instance options a modpack declares",
	Long: `Read the manifest of a modpack archive and print the instance options
derived from it: name, version, runtime versions and launch settings.`,
	Args: cobra.ExactArgs(1),
	RunE: runInfo,
}

var infoJSON bool

func init() {
	rootCmd.AddCommand(infoCmd)

	infoCmd.Flags().BoolVar(&infoJSON, "json", false, "Print as JSON instead of YAML")
}

// packInfo is the printed form of a modpack's metadata.
type packInfo struct {
	Format    string                  `json:"format" yaml:"format"`
	Instance  modpack.InstanceOptions `json:"instance" yaml:"instance"`
	Files     int                     `json:"curseforgeFiles" yaml:"curseforge_files"`
	Addons    int                     `json:"addonFiles,omitempty" yaml:"addon_files,omitempty"`
	Overrides string                  `json:"overrides" yaml:"overrides"`
}

func runInfo(cmd *cobra.Command, args []string) error {
	archive, err := zip.OpenReader(args[0])
	if err != nil {
		return fmt.Errorf("failed to open modpack: %w", err)
	}
	defer func() { _ = archive.Close() }()

	manifest, err := modpack.ReadMetadata(&archive.Reader)
	if err != nil {
		return err
	}

	info := packInfo{
		Format:    manifest.Format(),
		Instance:  modpack.ResolveInstanceOptions(manifest),
		Files:     len(manifest.CurseFiles()),
		Overrides: manifest.OverridesPrefix(),
	}
	if src, ok := manifest.(modpack.AddonSource); ok {
		info.Addons = len(src.AddonFiles())
	}

	out := cmd.OutOrStdout()
	if infoJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	}
	enc := yaml.NewEncoder(out)
	enc.SetIndent(2)
	if err := enc.Encode(info); err != nil {
		return err
	}
	return enc.Close()
}
