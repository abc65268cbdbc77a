package patch

import (
	"fmt"
	"time"

	"github.com/projecteru2/core/log"
	"github.com/spf13/cobra"

	cmdcore "github.com/patchkeep/patchkeep/cmd/core"
	"github.com/patchkeep/patchkeep/config"
	"github.com/patchkeep/patchkeep/digest"
	"github.com/patchkeep/patchkeep/gc"
	"github.com/patchkeep/patchkeep/lock/flock"
	"github.com/patchkeep/patchkeep/patcher"
	"github.com/patchkeep/patchkeep/resource"
)

type Handler struct {
	cmdcore.BaseHandler
}

func newPatcher(conf *config.Config) (*patcher.Patcher, error) {
	alg, err := digest.FromID(conf.DigestAlgorithm)
	if err != nil {
		return nil, fmt.Errorf("digest algorithm: %w", err)
	}
	hasher := digest.New(alg)
	manager := resource.NewHTTPManager(conf.RootDir, conf.EffectiveCacheDir(), conf.ManifestURL, conf.HTTPTimeout)
	return patcher.New(manager, hasher), nil
}

func (h Handler) Identify(cmd *cobra.Command, _ []string) error {
	ctx, conf, err := h.Init(cmd)
	if err != nil {
		return err
	}
	if err := conf.EnsureDirs(); err != nil {
		return err
	}
	p, err := newPatcher(conf)
	if err != nil {
		return err
	}
	if err := p.Identify(ctx, conf.ManifestURL); err != nil {
		return err
	}
	fmt.Println(p.Version())
	return nil
}

func (h Handler) Check(cmd *cobra.Command, _ []string) error {
	ctx, conf, err := h.Init(cmd)
	if err != nil {
		return err
	}
	if err := conf.EnsureDirs(); err != nil {
		return err
	}
	p, err := newPatcher(conf)
	if err != nil {
		return err
	}
	if err := p.Identify(ctx, conf.ManifestURL); err != nil {
		return err
	}
	available, err := p.IsUpdateAvailable()
	if err != nil {
		return err
	}
	if available {
		fmt.Println("update available")
	} else {
		fmt.Println("up to date")
	}
	return nil
}

func (h Handler) Apply(cmd *cobra.Command, _ []string) error {
	ctx, conf, err := h.Init(cmd)
	if err != nil {
		return err
	}
	logger := log.WithFunc("cmd.patch.Apply")
	if err := conf.EnsureDirs(); err != nil {
		return err
	}

	l := flock.New(conf.LockPath(), "apply")
	if err := l.Lock(ctx); err != nil {
		return fmt.Errorf("acquire install root lock: %w", err)
	}
	defer l.Unlock(ctx) //nolint:errcheck

	p, err := newPatcher(conf)
	if err != nil {
		return err
	}
	if err := p.Identify(ctx, conf.ManifestURL); err != nil {
		return err
	}

	applied := 0
	for {
		ok, err := p.ApplyNextUpdate(ctx)
		if err != nil {
			return fmt.Errorf("apply update: %w", err)
		}
		if !ok {
			break
		}
		applied++
		logger.Infof(ctx, "installed version is now %s", p.Version())
	}
	if applied == 0 {
		logger.Info(ctx, "already up to date")
	} else {
		logger.Infof(ctx, "applied %d release(s)", applied)
	}
	return nil
}

func (h Handler) GC(cmd *cobra.Command, _ []string) error {
	ctx, conf, err := h.Init(cmd)
	if err != nil {
		return err
	}
	if err := conf.EnsureDirs(); err != nil {
		return err
	}
	o := gc.New(gc.Module{
		Locker:   flock.New(conf.LockPath(), "gc"),
		LockPath: conf.LockPath(),
		CacheDir: conf.EffectiveCacheDir(),
		MinAge:   time.Hour,
	})
	return o.Run(ctx)
}
