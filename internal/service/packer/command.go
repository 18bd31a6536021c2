package packer

import (
	"archive/tar"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/ulikunitz/xz"

	"github.com/krishjainx/bootengine/internal/config"
	"github.com/krishjainx/bootengine/internal/domain/sysext"
	"github.com/krishjainx/bootengine/internal/imagemeta"
	"github.com/krishjainx/bootengine/internal/logger"
)

// Options contains inputs for the packer entry point.
type Options struct {
	// InputDir is the directory tree to pack into the image.
	InputDir string
	// Name is the extension slot name the image is built for.
	Name string
	// OSVersion is the OS release the image targets.
	OSVersion string
	// Legacy marks the image as a factory initial build.
	Legacy bool
	// OutputDir is where the image is written (defaults to the working
	// directory).
	OutputDir string
	// SigningKey selects the gpg key for the detached signature. Empty
	// skips signing.
	SigningKey string
	// GPGHome is an optional gpg home directory override.
	GPGHome string
	// GPGPath is the gpg binary (defaults to resolving via PATH).
	GPGPath string
}

var (
	errInputDirRequired = errors.New("input directory must be provided")
	errNameRequired     = errors.New("extension name must be provided")
	errVersionRequired  = errors.New("os version must be provided")
	errNotADirectory    = errors.New("input path is not a directory")
)

// packer builds one extension image for distribution. It is unexported,
// callers use Run.
type packer struct {
	opts       *Options
	outputPath string
}

// Run executes the packaging workflow.
func Run(ctx context.Context, opts *Options) error {
	ctx = logger.WithName(ctx, "sysext-pack")

	p, err := newPacker(opts)
	if err != nil {
		return err
	}

	if err = p.Run(ctx); err != nil {
		logger.ErrorKV(ctx, "Packaging failed", "error", err)
		return err
	}

	logger.Info(ctx, "Packaging completed")

	return nil
}

// newPacker validates the options and derives the output location.
func newPacker(opts *Options) (*packer, error) {
	if opts.InputDir == "" {
		return nil, errInputDirRequired
	}

	fileInfo, err := os.Stat(opts.InputDir)
	if err != nil {
		return nil, fmt.Errorf("stat input directory: %w", err)
	}

	if !fileInfo.IsDir() {
		return nil, fmt.Errorf("%s: %w", opts.InputDir, errNotADirectory)
	}

	if opts.Name == "" {
		return nil, errNameRequired
	}

	if opts.OSVersion == "" {
		return nil, errVersionRequired
	}

	if opts.OutputDir == "" {
		opts.OutputDir = "."
	}

	if opts.GPGPath == "" {
		opts.GPGPath = config.DefaultGPGPath
	}

	fileName := sysext.Artifact{Name: opts.Name, Version: opts.OSVersion}.FileName()
	if opts.Legacy {
		fileName = sysext.LegacyInitialName(opts.Name)
	}

	return &packer{
		opts:       opts,
		outputPath: filepath.Join(opts.OutputDir, fileName),
	}, nil
}

// Run builds the image, signs it when a key is given, and prints the
// distribution guidance.
func (p *packer) Run(ctx context.Context) error {
	logger.InfoKV(ctx, "Building extension image",
		"input", p.opts.InputDir,
		"output", p.outputPath)

	digest, err := p.buildImage()
	if err != nil {
		return fmt.Errorf("build image: %w", err)
	}

	logger.InfoKV(ctx, "Extension image built",
		"image", p.outputPath,
		"sha256", digest)

	if p.opts.SigningKey != "" {
		if err = p.sign(ctx); err != nil {
			return fmt.Errorf("sign image: %w", err)
		}

		logger.InfoKV(ctx, "Image signed",
			"signature", p.outputPath+sysext.SignatureExtension)
	}

	p.printNextSteps(ctx)

	return nil
}

// buildImage writes the tar.xz image, description entry first so readers
// can classify the image from its leading bytes. The image is staged next
// to its final name and renamed once complete.
func (p *packer) buildImage() (string, error) {
	stagedPath := p.outputPath + ".new"

	out, err := os.Create(stagedPath)
	if err != nil {
		return "", fmt.Errorf("create %s: %w", stagedPath, err)
	}

	discard := func() {
		_ = out.Close()
		_ = os.Remove(stagedPath)
	}

	hasher := sha256.New()

	xzWriter, err := xz.NewWriter(io.MultiWriter(out, hasher))
	if err != nil {
		discard()

		return "", fmt.Errorf("open xz stream: %w", err)
	}

	tarWriter := tar.NewWriter(xzWriter)

	meta := &imagemeta.Meta{ID: p.opts.Name, VersionID: p.opts.OSVersion}
	if p.opts.Legacy {
		meta.Tier = imagemeta.TierLegacy
	}

	if err = imagemeta.WriteEntry(tarWriter, meta); err != nil {
		discard()

		return "", err
	}

	if err = appendTree(tarWriter, p.opts.InputDir); err != nil {
		discard()

		return "", err
	}

	if err = tarWriter.Close(); err != nil {
		discard()

		return "", fmt.Errorf("close archive: %w", err)
	}

	if err = xzWriter.Close(); err != nil {
		discard()

		return "", fmt.Errorf("close xz stream: %w", err)
	}

	if err = out.Close(); err != nil {
		_ = os.Remove(stagedPath)

		return "", fmt.Errorf("close %s: %w", stagedPath, err)
	}

	if err = os.Rename(stagedPath, p.outputPath); err != nil {
		_ = os.Remove(stagedPath)

		return "", fmt.Errorf("finalize image: %w", err)
	}

	return hex.EncodeToString(hasher.Sum(nil)), nil
}

// appendTree archives the input tree relative to its root. Description
// entries in the tree are skipped, the generated one is authoritative.
func appendTree(tarWriter *tar.Writer, root string) error {
	return filepath.Walk(root, func(path string, info os.FileInfo, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}

		if rel == "." {
			return nil
		}

		rel = filepath.ToSlash(rel)
		if rel == imagemeta.MetaDir || strings.HasPrefix(rel, imagemeta.MetaDir+"/") {
			return nil
		}

		var link string

		if info.Mode()&os.ModeSymlink != 0 {
			if link, err = os.Readlink(path); err != nil {
				return fmt.Errorf("read link %s: %w", path, err)
			}
		}

		header, err := tar.FileInfoHeader(info, link)
		if err != nil {
			return fmt.Errorf("header for %s: %w", rel, err)
		}

		header.Name = rel
		if info.IsDir() {
			header.Name += "/"
		}

		if err = tarWriter.WriteHeader(header); err != nil {
			return fmt.Errorf("write header for %s: %w", rel, err)
		}

		if !info.Mode().IsRegular() {
			return nil
		}

		f, err := os.Open(filepath.Clean(path))
		if err != nil {
			return err
		}

		if _, err = io.Copy(tarWriter, f); err != nil {
			_ = f.Close()

			return fmt.Errorf("archive %s: %w", rel, err)
		}

		return f.Close()
	})
}

// sign writes the detached signature next to the image.
func (p *packer) sign(ctx context.Context) error {
	signaturePath := p.outputPath + sysext.SignatureExtension

	args := []string{"--batch", "--yes"}
	if p.opts.GPGHome != "" {
		args = append(args, "--homedir", p.opts.GPGHome)
	}

	args = append(args,
		"--local-user", p.opts.SigningKey,
		"--output", signaturePath,
		"--detach-sign", p.outputPath)

	output, err := exec.CommandContext(ctx, p.opts.GPGPath, args...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s: %w", strings.TrimSpace(string(output)), err)
	}

	return nil
}

// printNextSteps logs human-readable guidance for publishing the image.
func (p *packer) printNextSteps(ctx context.Context) {
	remoteName := sysext.Artifact{Name: p.opts.Name}.RemoteName()

	var builder strings.Builder

	builder.WriteString("You should upload the image to your download server as <board>/")
	builder.WriteString(p.opts.OSVersion)
	builder.WriteString("/")
	builder.WriteString(remoteName)

	if p.opts.SigningKey != "" {
		builder.WriteString(" together with the detached signature ")
		builder.WriteString(remoteName)
		builder.WriteString(sysext.SignatureExtension)
	} else {
		builder.WriteString("\nThe image is unsigned: hosts will reject it. Sign it with:\ngpg --local-user <key> --output ")
		builder.WriteString(remoteName)
		builder.WriteString(sysext.SignatureExtension)
		builder.WriteString(" --detach-sign ")
		builder.WriteString(filepath.Base(p.outputPath))
	}

	logger.Info(ctx, builder.String())
}
