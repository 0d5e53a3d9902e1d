// Package archive downloads and unpacks competition track archives. Track
// files inside are named by the pilot's contest number, which is how files
// and registered paragliders are matched.
package archive

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/samber/lo"

	"github.com/TBoris/gorynych/log"
	"github.com/TBoris/gorynych/pkg/model"
)

// TrackArchive handles one race's archive from URL to unpacked files.
type TrackArchive struct {
	raceID string
	url    string

	hc  *http.Client
	dir string
	l   *log.Logger
}

type Option func(*TrackArchive)

func WithHTTPClient(hc *http.Client) Option {
	return func(a *TrackArchive) { a.hc = hc }
}

// WithWorkDir overrides the directory the archive is unpacked into.
func WithWorkDir(dir string) Option {
	return func(a *TrackArchive) { a.dir = dir }
}

func New(raceID, url string, opts ...Option) *TrackArchive {
	a := &TrackArchive{
		raceID: raceID,
		url:    url,
		hc:     &http.Client{Timeout: 5 * time.Minute},
		l:      log.Default().Named("archive"),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Process downloads the archive, unpacks its track files and matches them
// against the registered paragliders.
func (a *TrackArchive) Process(ctx context.Context,
	pilots []model.Paraglider,
) (*model.ArchiveInfo, error) {
	if a.dir == "" {
		dir, err := os.MkdirTemp("", "gorynych-archive-"+a.raceID)
		if err != nil {
			return nil, err
		}
		a.dir = dir
	}
	archivePath, err := a.download(ctx)
	if err != nil {
		return nil, fmt.Errorf("downloading archive for race %s: %w",
			a.raceID, err)
	}
	files, err := a.unpack(archivePath)
	if err != nil {
		return nil, fmt.Errorf("unpacking archive for race %s: %w",
			a.raceID, err)
	}
	return a.findParagliders(files, pilots), nil
}

func (a *TrackArchive) download(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.url, nil)
	if err != nil {
		return "", err
	}
	resp, err := a.hc.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("GET %s: unexpected status %s", a.url, resp.Status)
	}

	target := filepath.Join(a.dir, "archive.zip")
	f, err := os.Create(target)
	if err != nil {
		return "", err
	}
	defer f.Close()
	n, err := io.Copy(f, resp.Body)
	if err != nil {
		return "", err
	}
	a.l.Info("archive downloaded",
		log.String("race", a.raceID), log.Int64("bytes", n))
	return target, nil
}

// unpack extracts every .igc file, flat, ignoring the directory layout
// inside the archive. Returns the extracted file paths.
func (a *TrackArchive) unpack(archivePath string) ([]string, error) {
	r, err := zip.OpenReader(archivePath)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	var files []string
	for _, f := range r.File {
		if f.FileInfo().IsDir() ||
			!strings.EqualFold(filepath.Ext(f.Name), ".igc") {
			continue
		}
		target := filepath.Join(a.dir, filepath.Base(f.Name))
		if err := extractFile(f, target); err != nil {
			return nil, fmt.Errorf("extracting %s: %w", f.Name, err)
		}
		files = append(files, target)
	}
	a.l.Info("archive unpacked",
		log.String("race", a.raceID), log.Int("tracks", len(files)))
	return files, nil
}

func extractFile(f *zip.File, target string) error {
	src, err := f.Open()
	if err != nil {
		return err
	}
	defer src.Close()
	dst, err := os.Create(target)
	if err != nil {
		return err
	}
	defer dst.Close()
	_, err = io.Copy(dst, src)
	return err
}

// findParagliders matches file names against contest numbers. Files without
// a pilot become extra tracks, pilots without a file are reported left.
func (a *TrackArchive) findParagliders(files []string,
	pilots []model.Paraglider,
) *model.ArchiveInfo {
	byNumber := lo.KeyBy(pilots, func(p model.Paraglider) string {
		return strings.ToLower(p.ContestNumber)
	})

	info := &model.ArchiveInfo{}
	found := make(map[string]bool)
	for _, file := range files {
		number := strings.ToLower(
			strings.TrimSuffix(filepath.Base(file), filepath.Ext(file)))
		pilot, ok := byNumber[number]
		if !ok {
			info.ExtraTracks = append(info.ExtraTracks, filepath.Base(file))
			continue
		}
		found[number] = true
		info.Tracks = append(info.Tracks, model.ParagliderTrackfile{
			PersonID:      pilot.PersonID,
			Trackfile:     file,
			ContestNumber: pilot.ContestNumber,
		})
	}
	info.LeftParagliders = lo.FilterMap(pilots,
		func(p model.Paraglider, _ int) (string, bool) {
			return p.PersonID, !found[strings.ToLower(p.ContestNumber)]
		})
	return info
}
