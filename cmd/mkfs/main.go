package main

import (
	"archive/tar"
	"compress/gzip"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
	"github.com/schollz/progressbar/v3"
	"gopkg.in/yaml.v3"

	"github.com/queer/flail/pkg/ext"
)

var (
	size      = flag.Int("size", 64, "the size of the filesystem in megabytes")
	output    = flag.String("output", "", "the file to write the filesystem to")
	label     = flag.String("label", "", "the volume label")
	manifest  = flag.String("manifest", "", "a yaml manifest of files to populate the image with")
	fsUUID    = flag.String("uuid", "", "a fixed volume uuid, for reproducible images")
	timestamp = flag.Int64("timestamp", 0, "a fixed unix timestamp, for reproducible images")
	verbose   = flag.Bool("verbose", false, "enable debug logging")
)

// Manifest describes the initial contents of a fresh image.
type Manifest struct {
	Dirs  []string `yaml:"dirs,omitempty"`
	Files []struct {
		Path     string `yaml:"path"`
		Contents string `yaml:"contents,omitempty"`
		Source   string `yaml:"source,omitempty"`
	} `yaml:"files,omitempty"`
	Links []struct {
		Path   string `yaml:"path"`
		Target string `yaml:"target"`
	} `yaml:"links,omitempty"`
}

func loadManifest(filename string) (*Manifest, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var m Manifest

	dec := yaml.NewDecoder(f)
	if err := dec.Decode(&m); err != nil {
		return nil, err
	}

	return &m, nil
}

func mkdirAll(s *ext.Session, dir string) error {
	if dir == "/" || dir == "" || dir == "." {
		return nil
	}

	parent, name := path.Split(path.Clean(dir))
	if err := mkdirAll(s, path.Clean(parent)); err != nil {
		return err
	}

	err := s.Mkdir(path.Clean(parent), name)
	if errors.Is(err, ext.EtDirExists) {
		return nil
	}
	return err
}

func populate(s *ext.Session, m *Manifest) error {
	total := len(m.Dirs) + len(m.Files) + len(m.Links)
	prog := progressbar.Default(int64(total), "populating")
	defer prog.Close()

	for _, dir := range m.Dirs {
		if err := mkdirAll(s, dir); err != nil {
			return fmt.Errorf("mkdir %s: %w", dir, err)
		}
		prog.Add(1)
	}

	for _, file := range m.Files {
		contents := []byte(file.Contents)
		if file.Source != "" {
			var err error
			contents, err = os.ReadFile(file.Source)
			if err != nil {
				return err
			}
		}

		if err := mkdirAll(s, path.Dir(file.Path)); err != nil {
			return err
		}
		if _, err := s.WriteToFile(file.Path, contents); err != nil {
			return fmt.Errorf("write %s: %w", file.Path, err)
		}
		prog.Add(1)
	}

	for _, link := range m.Links {
		dir, name := path.Split(path.Clean(link.Path))

		parent, err := s.FindInode(path.Clean(dir))
		if err != nil {
			return err
		}
		if err := s.Symlink(parent, 0, name, link.Target); err != nil {
			return fmt.Errorf("symlink %s: %w", link.Path, err)
		}
		prog.Add(1)
	}

	return nil
}

// extractArchive unpacks a tarball into the image. Regular files,
// directories and symlinks are supported; everything else is skipped
// with a warning.
func extractArchive(s *ext.Session, filename string) error {
	f, err := os.Open(filename)
	if err != nil {
		return err
	}
	defer f.Close()

	var src io.Reader = f
	if strings.HasSuffix(filename, ".gz") || strings.HasSuffix(filename, ".tgz") {
		gz, err := gzip.NewReader(f)
		if err != nil {
			return err
		}
		defer gz.Close()
		src = gz
	}

	reader := tar.NewReader(src)
	for {
		hdr, err := reader.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}

		target := path.Clean("/" + hdr.Name)
		if target == "/" {
			continue
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := mkdirAll(s, target); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := mkdirAll(s, path.Dir(target)); err != nil {
				return err
			}

			contents, err := io.ReadAll(reader)
			if err != nil {
				return err
			}
			if _, err := s.WriteToFile(target, contents); err != nil {
				return fmt.Errorf("write %s: %w", target, err)
			}
		case tar.TypeSymlink:
			if err := mkdirAll(s, path.Dir(target)); err != nil {
				return err
			}

			dir, name := path.Split(target)
			parent, err := s.FindInode(path.Clean(dir))
			if err != nil {
				return err
			}
			if err := s.Symlink(parent, 0, name, hdr.Linkname); err != nil {
				return fmt.Errorf("symlink %s: %w", target, err)
			}
		default:
			slog.Warn("skipping unsupported entry", "name", hdr.Name, "type", hdr.Typeflag)
		}
	}
}

func mkfsMain() error {
	flag.Parse()

	w := os.Stderr

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}

	slog.SetDefault(slog.New(
		tint.NewHandler(w, &tint.Options{
			Level:      level,
			TimeFormat: time.RFC3339Nano,
			NoColor:    !isatty.IsTerminal(w.Fd()),
		}),
	))

	if *output == "" {
		flag.Usage()
		return fmt.Errorf("output must be specified")
	}

	fsSize := uint64(*size) * 1024 * 1024

	opts := []ext.CreateOption{ext.WithVolumeName(*label)}
	if *fsUUID != "" {
		id, err := uuid.Parse(*fsUUID)
		if err != nil {
			return fmt.Errorf("invalid uuid: %w", err)
		}
		opts = append(opts, ext.WithUUID(id))
	}
	if *timestamp != 0 {
		opts = append(opts, ext.WithTimestamp(time.Unix(*timestamp, 0)))
	}

	s, err := ext.Create(*output, fsSize, opts...)
	if err != nil {
		return err
	}
	defer s.Close()

	if *manifest != "" {
		m, err := loadManifest(*manifest)
		if err != nil {
			return err
		}
		if err := populate(s, m); err != nil {
			return err
		}
	}

	for _, in := range flag.Args() {
		if err := extractArchive(s, in); err != nil {
			return err
		}
	}

	return s.Flush()
}

func main() {
	if err := mkfsMain(); err != nil {
		slog.Error("fatal", "err", err)
		os.Exit(1)
	}
}
