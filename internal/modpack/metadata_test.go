package modpack

import (
	"errors"
	"reflect"
	"testing"

	"github.com/Iron-Ham/tasktree/internal/testutil"
)

const curseforgeJSON = `{
  "manifestType": "minecraftModpack",
  "manifestVersion": 1,
  "name": "Sky Pack",
  "version": "1.2.0",
  "author": "builder",
  "minecraft": {
    "version": "1.16.5",
    "modLoaders": [{"id": "forge-36.2.0", "primary": true}]
  },
  "files": [
    {"projectID": 100, "fileID": 1000, "required": true},
    {"projectID": 200, "fileID": 2000, "required": true}
  ],
  "overrides": "overrides"
}`

const mcbbsJSON = `{
  "manifestType": "minecraftModpack",
  "manifestVersion": 2,
  "name": "Ocean Pack",
  "version": "3.0",
  "author": "sailor",
  "description": "water everywhere",
  "fileApi": "https://files.example.test/ocean",
  "url": "https://example.test/ocean",
  "addons": [
    {"id": "game", "version": "1.18.2"},
    {"id": "fabric", "version": "0.14.21"}
  ],
  "files": [
    {"type": "curse", "projectID": 300, "fileID": 3000},
    {"type": "addon", "path": "config/ocean.cfg", "hash": "abc"}
  ],
  "launchInfo": {
    "minMemory": 4096,
    "launchArgument": ["--fullscreen"],
    "javaArgument": ["-XX:+UseG1GC"]
  }
}`

func TestReadMetadata(t *testing.T) {
	tests := []struct {
		name       string
		files      map[string]string
		wantFormat string
		wantErr    error
	}{
		{
			name:       "curseforge",
			files:      map[string]string{CurseforgeManifestName: curseforgeJSON},
			wantFormat: "curseforge",
		},
		{
			name:       "mcbbs wins over curseforge",
			files:      map[string]string{CurseforgeManifestName: curseforgeJSON, McbbsManifestName: mcbbsJSON},
			wantFormat: "mcbbs",
		},
		{
			name:    "no manifest",
			files:   map[string]string{"overrides/a.txt": "a"},
			wantErr: ErrNoManifest,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := ReadMetadata(testutil.BuildZip(t, tt.files))
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("ReadMetadata error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("ReadMetadata: %v", err)
			}
			if m.Format() != tt.wantFormat {
				t.Errorf("Format() = %q, want %q", m.Format(), tt.wantFormat)
			}
		})
	}
}

func TestReadMetadata_InvalidJSON(t *testing.T) {
	_, err := ReadMetadata(testutil.BuildZip(t, map[string]string{CurseforgeManifestName: "{not json"}))
	if err == nil {
		t.Fatal("expected a parse error")
	}
	if errors.Is(err, ErrNoManifest) {
		t.Error("a broken manifest must not be reported as missing")
	}
}

func TestManifestFiles(t *testing.T) {
	m, err := ReadMetadata(testutil.BuildZip(t, map[string]string{McbbsManifestName: mcbbsJSON}))
	if err != nil {
		t.Fatalf("ReadMetadata: %v", err)
	}

	if got, want := m.CurseFiles(), []CurseFile{{ProjectID: 300, FileID: 3000}}; !reflect.DeepEqual(got, want) {
		t.Errorf("CurseFiles() = %v, want %v", got, want)
	}
	src, ok := m.(AddonSource)
	if !ok {
		t.Fatal("mcbbs manifest should expose addon files")
	}
	if got, want := src.AddonFiles(), []AddonFile{{Path: "config/ocean.cfg", Hash: "abc"}}; !reflect.DeepEqual(got, want) {
		t.Errorf("AddonFiles() = %v, want %v", got, want)
	}
	if m.OverridesPrefix() != DefaultOverrides {
		t.Errorf("OverridesPrefix() = %q, want %q", m.OverridesPrefix(), DefaultOverrides)
	}
}

func TestResolveInstanceOptions(t *testing.T) {
	curse, err := ReadMetadata(testutil.BuildZip(t, map[string]string{CurseforgeManifestName: curseforgeJSON}))
	if err != nil {
		t.Fatal(err)
	}
	mcbbs, err := ReadMetadata(testutil.BuildZip(t, map[string]string{McbbsManifestName: mcbbsJSON}))
	if err != nil {
		t.Fatal(err)
	}
	modrinth := &ModrinthManifest{
		Name:         "Fabric Lite",
		VersionID:    "2.1",
		Summary:      "small",
		Dependencies: map[string]string{"minecraft": "1.20.1", "fabric-loader": "0.15.0"},
	}

	tests := []struct {
		name string
		in   Manifest
		want InstanceOptions
	}{
		{
			name: "curseforge",
			in:   curse,
			want: InstanceOptions{
				Name:    "Sky Pack",
				Author:  "builder",
				Version: "1.2.0",
				Runtime: Runtime{Minecraft: "1.16.5", Forge: "36.2.0"},
			},
		},
		{
			name: "mcbbs",
			in:   mcbbs,
			want: InstanceOptions{
				Name:        "Ocean Pack",
				Author:      "sailor",
				Version:     "3.0",
				Description: "water everywhere",
				URL:         "https://example.test/ocean",
				Runtime:     Runtime{Minecraft: "1.18.2", FabricLoader: "0.14.21"},
				MinMemory:   4096,
				VMOptions:   []string{"-XX:+UseG1GC"},
				MCOptions:   []string{"--fullscreen"},
			},
		},
		{
			name: "modrinth",
			in:   modrinth,
			want: InstanceOptions{
				Name:        "Fabric Lite",
				Version:     "2.1",
				Description: "small",
				Runtime:     Runtime{Minecraft: "1.20.1", FabricLoader: "0.15.0"},
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ResolveInstanceOptions(tt.in); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ResolveInstanceOptions() = %+v, want %+v", got, tt.want)
			}
		})
	}
}
