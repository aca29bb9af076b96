package modpack

// File types used in MCBBS manifests.
const (
	FileTypeCurse = "curse"
	FileTypeAddon = "addon"
)

// DefaultOverrides is the archive prefix holding files copied into the
// instance when a manifest does not name one.
const DefaultOverrides = "overrides"

// Manifest is implemented by *CurseforgeManifest, *McbbsManifest and
// *ModrinthManifest.
type Manifest interface {
	// Format names the manifest format.
	Format() string

	// CurseFiles returns the files whose download URLs must be looked up.
	CurseFiles() []CurseFile

	// OverridesPrefix returns the archive prefix of the override files.
	OverridesPrefix() string
}

// AddonSource is implemented by manifests that reference files served from
// a custom file API.
type AddonSource interface {
	FileAPI() string
	AddonFiles() []AddonFile
}

// CurseFile identifies a Curseforge project file.
type CurseFile struct {
	ProjectID int `json:"projectID"`
	FileID    int `json:"fileID"`
}

// AddonFile is a file downloaded from a manifest's file API and validated
// against its sha1 hash.
type AddonFile struct {
	Path string `json:"path"`
	Hash string `json:"hash"`
}

// ModLoader names a loader entry in a Curseforge manifest, for example
// "forge-36.2.0" or "fabric-0.14.21".
type ModLoader struct {
	ID      string `json:"id"`
	Primary bool   `json:"primary"`
}

// CurseforgeManifest is the manifest.json of a Curseforge modpack.
type CurseforgeManifest struct {
	ManifestType    string `json:"manifestType"`
	ManifestVersion int    `json:"manifestVersion"`
	Name            string `json:"name"`
	Version         string `json:"version"`
	Author          string `json:"author"`
	Minecraft       struct {
		Version    string      `json:"version"`
		ModLoaders []ModLoader `json:"modLoaders"`
	} `json:"minecraft"`
	Files     []CurseforgeFile `json:"files"`
	Overrides string           `json:"overrides"`
}

// CurseforgeFile references a project file in a Curseforge manifest.
type CurseforgeFile struct {
	ProjectID int  `json:"projectID"`
	FileID    int  `json:"fileID"`
	Required  bool `json:"required"`
}

func (m *CurseforgeManifest) Format() string { return "curseforge" }

func (m *CurseforgeManifest) CurseFiles() []CurseFile {
	files := make([]CurseFile, 0, len(m.Files))
	for _, f := range m.Files {
		files = append(files, CurseFile{ProjectID: f.ProjectID, FileID: f.FileID})
	}
	return files
}

func (m *CurseforgeManifest) OverridesPrefix() string {
	if m.Overrides == "" {
		return DefaultOverrides
	}
	return m.Overrides
}

// McbbsAddon pins a runtime component such as "game", "forge" or "fabric".
type McbbsAddon struct {
	ID      string `json:"id"`
	Version string `json:"version"`
}

// McbbsFile is either a Curseforge reference (type "curse") or a file
// served from the manifest's file API (type "addon").
type McbbsFile struct {
	Type      string `json:"type"`
	ProjectID int    `json:"projectID,omitempty"`
	FileID    int    `json:"fileID,omitempty"`
	Force     bool   `json:"force,omitempty"`
	Path      string `json:"path,omitempty"`
	Hash      string `json:"hash,omitempty"`
}

// McbbsLaunchInfo carries launch settings recommended by the pack author.
type McbbsLaunchInfo struct {
	MinMemory      int      `json:"minMemory"`
	SupportJava    []int    `json:"supportJava,omitempty"`
	LaunchArgument []string `json:"launchArgument,omitempty"`
	JavaArgument   []string `json:"javaArgument,omitempty"`
}

// McbbsManifest is the mcbbs.packmeta of an MCBBS modpack.
type McbbsManifest struct {
	ManifestType    string           `json:"manifestType"`
	ManifestVersion int              `json:"manifestVersion"`
	Name            string           `json:"name"`
	Version         string           `json:"version"`
	Author          string           `json:"author"`
	Description     string           `json:"description"`
	FileAPIURL      string           `json:"fileApi"`
	URL             string           `json:"url"`
	ForceUpdate     bool             `json:"forceUpdate"`
	Addons          []McbbsAddon     `json:"addons"`
	Files           []McbbsFile      `json:"files"`
	LaunchInfo      *McbbsLaunchInfo `json:"launchInfo,omitempty"`
	Overrides       string           `json:"overrides,omitempty"`
}

func (m *McbbsManifest) Format() string { return "mcbbs" }

// CurseFiles returns files with type "curse" or no type.
func (m *McbbsManifest) CurseFiles() []CurseFile {
	var files []CurseFile
	for _, f := range m.Files {
		if f.Type == "" || f.Type == FileTypeCurse {
			files = append(files, CurseFile{ProjectID: f.ProjectID, FileID: f.FileID})
		}
	}
	return files
}

func (m *McbbsManifest) OverridesPrefix() string {
	if m.Overrides == "" {
		return DefaultOverrides
	}
	return m.Overrides
}

func (m *McbbsManifest) FileAPI() string { return m.FileAPIURL }

// AddonFiles returns files with type "addon".
func (m *McbbsManifest) AddonFiles() []AddonFile {
	var files []AddonFile
	for _, f := range m.Files {
		if f.Type == FileTypeAddon {
			files = append(files, AddonFile{Path: f.Path, Hash: f.Hash})
		}
	}
	return files
}

func (m *McbbsManifest) addon(id string) string {
	for _, a := range m.Addons {
		if a.ID == id {
			return a.Version
		}
	}
	return ""
}

// ModrinthFile is one entry of a Modrinth index.
type ModrinthFile struct {
	Path      string            `json:"path"`
	Hashes    map[string]string `json:"hashes"`
	Downloads []string          `json:"downloads"`
	FileSize  int64             `json:"fileSize"`
}

// ModrinthManifest is the modrinth.index.json of a Modrinth modpack. Its
// files carry direct download links, so it has no Curseforge files.
type ModrinthManifest struct {
	FormatVersion int               `json:"formatVersion"`
	Game          string            `json:"game"`
	VersionID     string            `json:"versionId"`
	Name          string            `json:"name"`
	Summary       string            `json:"summary,omitempty"`
	Files         []ModrinthFile    `json:"files"`
	Dependencies  map[string]string `json:"dependencies"`
}

func (m *ModrinthManifest) Format() string { return "modrinth" }

func (m *ModrinthManifest) CurseFiles() []CurseFile { return nil }

func (m *ModrinthManifest) OverridesPrefix() string { return DefaultOverrides }
