package modpack

import (
	"archive/zip"
	"context"
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"github.com/gobwas/glob"

	"github.com/Iron-Ham/tasktree/internal/engine"
	"github.com/Iron-Ham/tasktree/internal/fetch"
	"github.com/Iron-Ham/tasktree/internal/logging"
	"github.com/Iron-Ham/tasktree/internal/resolver"
)

// Task names used in the install tree.
const (
	TaskInstall  = "installModpack"
	TaskResolve  = "resolve"
	TaskDownload = "download"
	TaskUnpack   = "unpack"
)

// StagingDir is the directory under the instance root that receives
// Curseforge files.
const StagingDir = "mods"

// URLResolver looks up the download URL of a Curseforge project file.
type URLResolver interface {
	FileURL(ctx context.Context, projectID, fileID int) (string, error)
}

// Downloader fetches one file to disk.
type Downloader interface {
	Download(ctx context.Context, req fetch.Request) error
}

// Extractor writes selected archive entries into a directory.
type Extractor interface {
	Extract(ctx context.Context, archive *zip.Reader, filter func(*zip.File) bool, destDir string, rename func(string) string) error
}

// Params configures an install workflow.
type Params struct {
	Archive  *zip.Reader
	Manifest Manifest

	// Root is the instance directory.
	Root string

	// AllowFileAPI enables downloading addon files from the manifest's
	// file API.
	AllowFileAPI bool

	// Preserve lists glob patterns, relative to Root and using "/" as the
	// separator. Override entries matching one of them are not extracted
	// when the file already exists, so user edits survive a reinstall.
	Preserve []string

	Resolver   URLResolver
	Downloader Downloader
	Extractor  Extractor

	// ResolverOptions are applied after the workflow's own resolver
	// options, so they may override bounds and attempt ceilings.
	ResolverOptions []resolver.Option

	// Cache, when set, memoizes resolved URLs across installs.
	Cache *resolver.Cache[CurseFile, string]

	Logger *logging.Logger
}

// File records a Curseforge file written to the staging directory.
type File struct {
	Path      string `json:"path"`
	URL       string `json:"url"`
	ProjectID int    `json:"projectId"`
	FileID    int    `json:"fileId"`
}

// InstallError wraps an install failure with the files written before it.
type InstallError struct {
	Files []File
	Err   error
}

func (e *InstallError) Error() string {
	return "failed to install modpack: " + e.Err.Error()
}

func (e *InstallError) Unwrap() error { return e.Err }

// URLError reports a failed download URL lookup.
type URLError struct {
	ProjectID int
	FileID    int
	Err       error
}

func (e *URLError) Error() string {
	msg := fmt.Sprintf("failed to get curseforge download url project=%d file=%d", e.ProjectID, e.FileID)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *URLError) Unwrap() error { return e.Err }

// fileList collects files appended by concurrent downloads.
type fileList struct {
	mu    sync.Mutex
	files []File
}

func (l *fileList) add(f File) {
	l.mu.Lock()
	l.files = append(l.files, f)
	l.mu.Unlock()
}

func (l *fileList) list() []File {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]File(nil), l.files...)
}

// InstallTask returns the workflow that installs a modpack into p.Root. The
// task result is the []File written to the staging directory.
func InstallTask(p Params) engine.Task {
	return engine.Leaf{
		Name: TaskInstall,
		Run: func(c *engine.Context) (any, error) {
			return install(c, p)
		},
	}
}

func install(c *engine.Context, p Params) ([]File, error) {
	logger := p.Logger
	if logger == nil {
		logger = logging.NopLogger()
	}
	logger = logger.WithTask(c.Node().Root().ID()).With("root", p.Root)
	files := &fileList{}

	preserve, err := compilePatterns(p.Preserve)
	if err != nil {
		return nil, err
	}

	if curse := p.Manifest.CurseFiles(); len(curse) > 0 {
		staging := filepath.Join(p.Root, StagingDir)
		if err := os.MkdirAll(staging, 0755); err != nil {
			return nil, fmt.Errorf("failed to create %s: %w", staging, err)
		}

		urls, err := resolveURLs(c, p, curse)
		if err != nil {
			return nil, err
		}
		logger.Info("resolved download urls", "files", len(urls))

		downloads := make([]engine.Task, len(curse))
		for i, f := range curse {
			u := urls[i]
			dest := filepath.Join(staging, fileName(u))
			downloads[i] = engine.Map(downloadTask(p.Downloader, fetch.Request{URL: u, Destination: dest}), func(any) (any, error) {
				files.add(File{Path: dest, URL: u, ProjectID: f.ProjectID, FileID: f.FileID})
				return nil, nil
			})
		}

		_, err = c.All(downloads, engine.AllOptions{
			ErrorMessage: func(errs []error) string {
				msgs := make([]string, len(errs))
				for i, e := range errs {
					msgs[i] = e.Error()
				}
				return fmt.Sprintf("failed to install modpack to %s: %s", p.Root, strings.Join(msgs, "\n"))
			},
		})
		if err != nil {
			return nil, &InstallError{Files: files.list(), Err: err}
		}
	}

	prefix := p.Manifest.OverridesPrefix()
	unpack := engine.Leaf{
		Name: TaskUnpack,
		Run: func(uc *engine.Context) (any, error) {
			return nil, uc.Step(func(ctx context.Context) error {
				return p.Extractor.Extract(ctx, p.Archive,
					func(f *zip.File) bool {
						if strings.HasSuffix(f.Name, "/") || !strings.HasPrefix(f.Name, prefix) {
							return false
						}
						rel := strings.TrimPrefix(f.Name[len(prefix):], "/")
						if preserved(preserve, rel, p.Root) {
							logger.Debug("kept existing file", "path", rel)
							return false
						}
						return true
					},
					p.Root,
					func(name string) string { return name[len(prefix):] },
				)
			})
		},
	}
	if _, err := c.Yield(unpack); err != nil {
		return nil, &InstallError{Files: files.list(), Err: err}
	}

	if src, ok := p.Manifest.(AddonSource); ok && p.AllowFileAPI && src.FileAPI() != "" {
		addons := src.AddonFiles()
		downloads := make([]engine.Task, len(addons))
		for i, f := range addons {
			downloads[i] = downloadTask(p.Downloader, fetch.Request{
				URL:         fetch.JoinURL(src.FileAPI(), f.Path),
				Destination: filepath.Join(p.Root, filepath.FromSlash(f.Path)),
				Validator:   &fetch.Validator{Algorithm: fetch.AlgorithmSHA1, Hash: f.Hash},
			})
		}
		if _, err := c.All(downloads); err != nil {
			return nil, &InstallError{Files: files.list(), Err: err}
		}
	}

	result := files.list()
	logger.Info("modpack installed", "files", len(result))
	return result, nil
}

// resolveURLs looks up a download URL for every file, in input order.
func resolveURLs(c *engine.Context, p Params, curse []CurseFile) ([]string, error) {
	total := int64(len(curse))
	c.Update(0, total, "resolving download urls")

	lookup := func(ctx context.Context, f CurseFile) (string, bool, error) {
		if err := c.Token().Check(); err != nil {
			return "", false, err
		}
		u, err := p.Resolver.FileURL(ctx, f.ProjectID, f.FileID)
		if err != nil {
			return "", false, &URLError{ProjectID: f.ProjectID, FileID: f.FileID, Err: err}
		}
		return u, u != "", nil
	}
	fn := resolver.Cached(lookup, p.Cache, func(f CurseFile) CurseFile { return f })

	var resolved int64
	opts := []resolver.Option{
		resolver.WithCheckpoint(c.Token().Check),
		resolver.WithFatal(engine.IsCancelled),
		resolver.WithObserver(func(s resolver.BatchStats) {
			resolved += int64(s.Resolved)
			c.Update(resolved, total, "")
		}),
	}
	if p.Logger != nil {
		opts = append(opts, resolver.WithLogger(p.Logger))
	}
	r, err := resolver.New(fn, append(opts, p.ResolverOptions...)...)
	if err != nil {
		return nil, err
	}

	urls, err := r.Resolve(c.Context(), curse)
	if err != nil {
		return nil, &InstallError{Err: err}
	}
	return urls, nil
}

func downloadTask(d Downloader, req fetch.Request) engine.Task {
	return engine.Leaf{
		Name: TaskDownload,
		Run: func(c *engine.Context) (any, error) {
			req.Progress = c.Progress()
			return nil, c.Step(func(ctx context.Context) error {
				return d.Download(ctx, req)
			})
		},
	}
}

func compilePatterns(patterns []string) ([]glob.Glob, error) {
	globs := make([]glob.Glob, 0, len(patterns))
	for _, pattern := range patterns {
		g, err := glob.Compile(pattern, '/')
		if err != nil {
			return nil, fmt.Errorf("invalid preserve pattern %q: %w", pattern, err)
		}
		globs = append(globs, g)
	}
	return globs, nil
}

// preserved reports whether rel matches a pattern and already exists under root.
func preserved(globs []glob.Glob, rel, root string) bool {
	for _, g := range globs {
		if g.Match(rel) {
			_, err := os.Stat(filepath.Join(root, filepath.FromSlash(rel)))
			return err == nil
		}
	}
	return false
}

// fileName returns the last path segment of a download URL.
func fileName(raw string) string {
	if u, err := url.Parse(raw); err == nil && u.Path != "" {
		return path.Base(u.Path)
	}
	return path.Base(raw)
}
