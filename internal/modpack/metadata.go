package modpack

import (
	"archive/zip"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Manifest file names, in lookup order.
const (
	McbbsManifestName      = "mcbbs.packmeta"
	CurseforgeManifestName = "manifest.json"
)

// ErrNoManifest is returned when an archive holds no known manifest.
var ErrNoManifest = errors.New("modpack has no manifest")

// ReadMetadata reads the manifest of a modpack archive. An MCBBS manifest
// takes precedence over a Curseforge one.
func ReadMetadata(archive *zip.Reader) (Manifest, error) {
	if f := findEntry(archive, McbbsManifestName); f != nil {
		m := &McbbsManifest{}
		if err := decodeEntry(f, m); err != nil {
			return nil, err
		}
		return m, nil
	}
	if f := findEntry(archive, CurseforgeManifestName); f != nil {
		m := &CurseforgeManifest{}
		if err := decodeEntry(f, m); err != nil {
			return nil, err
		}
		return m, nil
	}
	return nil, ErrNoManifest
}

func findEntry(archive *zip.Reader, name string) *zip.File {
	for _, f := range archive.File {
		if f.Name == name {
			return f
		}
	}
	return nil
}

func decodeEntry(f *zip.File, v any) error {
	r, err := f.Open()
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", f.Name, err)
	}
	defer func() { _ = r.Close() }()

	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", f.Name, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to parse %s: %w", f.Name, err)
	}
	return nil
}

// Runtime lists the game and loader versions an instance needs.
type Runtime struct {
	Minecraft    string `json:"minecraft" yaml:"minecraft"`
	Forge        string `json:"forge" yaml:"forge"`
	LiteLoader   string `json:"liteloader" yaml:"liteloader"`
	FabricLoader string `json:"fabricLoader" yaml:"fabricLoader"`
	Yarn         string `json:"yarn" yaml:"yarn"`
}

// InstanceOptions describes the instance a modpack should be installed
// into.
type InstanceOptions struct {
	Name        string   `json:"name" yaml:"name"`
	Author      string   `json:"author,omitempty" yaml:"author,omitempty"`
	Version     string   `json:"version,omitempty" yaml:"version,omitempty"`
	Description string   `json:"description,omitempty" yaml:"description,omitempty"`
	URL         string   `json:"url,omitempty" yaml:"url,omitempty"`
	Runtime     Runtime  `json:"runtime" yaml:"runtime"`
	MinMemory   int      `json:"minMemory,omitempty" yaml:"minMemory,omitempty"`
	VMOptions   []string `json:"vmOptions,omitempty" yaml:"vmOptions,omitempty"`
	MCOptions   []string `json:"mcOptions,omitempty" yaml:"mcOptions,omitempty"`
}

// ResolveInstanceOptions derives instance options from a manifest.
func ResolveInstanceOptions(m Manifest) InstanceOptions {
	switch m := m.(type) {
	case *McbbsManifest:
		opts := InstanceOptions{
			Name:        m.Name,
			Author:      m.Author,
			Version:     m.Version,
			Description: m.Description,
			URL:         m.URL,
			Runtime: Runtime{
				Minecraft:    m.addon("game"),
				Forge:        m.addon("forge"),
				FabricLoader: m.addon("fabric"),
			},
		}
		if info := m.LaunchInfo; info != nil {
			opts.MCOptions = info.LaunchArgument
			opts.VMOptions = info.JavaArgument
			opts.MinMemory = info.MinMemory
		}
		return opts

	case *CurseforgeManifest:
		opts := InstanceOptions{
			Name:    m.Name,
			Author:  m.Author,
			Version: m.Version,
		}
		opts.Runtime.Minecraft = m.Minecraft.Version
		for _, l := range m.Minecraft.ModLoaders {
			switch {
			case opts.Runtime.Forge == "" && strings.HasPrefix(l.ID, "forge-"):
				opts.Runtime.Forge = strings.TrimPrefix(l.ID, "forge-")
			case opts.Runtime.FabricLoader == "" && strings.HasPrefix(l.ID, "fabric-"):
				opts.Runtime.FabricLoader = strings.TrimPrefix(l.ID, "fabric-")
			}
		}
		return opts

	case *ModrinthManifest:
		return InstanceOptions{
			Name:        m.Name,
			Version:     m.VersionID,
			Description: m.Summary,
			Runtime: Runtime{
				Minecraft:    m.Dependencies["minecraft"],
				Forge:        m.Dependencies["forge"],
				FabricLoader: m.Dependencies["fabric-loader"],
			},
		}
	}
	return InstanceOptions{}
}
