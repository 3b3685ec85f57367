package stores

import (
	"context"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/mmdatafocus/eventrecon/config"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

const branchCacheKey = "recon:active_branches"

// BranchSource lists active branches from the authoritative store.
type BranchSource interface {
	ListActiveBranches(ctx context.Context) ([]int, error)
}

// BranchOverride is the optional BRANCHES_FILE:
//
//	branches: [12, 31]   # replaces the authoritative list when non-empty
//	exclude: [99]        # always removed
type BranchOverride struct {
	Branches []int `yaml:"branches"`
	Exclude  []int `yaml:"exclude"`
}

func LoadBranchOverride(path string) (*BranchOverride, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read branches file: %w", err)
	}
	var o BranchOverride
	if err := yaml.Unmarshal(raw, &o); err != nil {
		return nil, fmt.Errorf("parse branches file %s: %w", path, err)
	}
	return &o, nil
}

// BranchCatalog enumerates active branches in ascending order. The authoritative list is cached in
// Redis for CacheTTL when Redis is connected.
type BranchCatalog struct {
	Source   BranchSource
	Override *BranchOverride
	CacheTTL time.Duration
	Logger   *logrus.Logger
}

func (c *BranchCatalog) ActiveBranches(ctx context.Context) ([]int, error) {
	var branches []int
	if c.Override != nil && len(c.Override.Branches) > 0 {
		branches = append(branches, c.Override.Branches...)
	} else {
		var err error
		branches, err = c.fromSource(ctx)
		if err != nil {
			return nil, err
		}
	}
	return c.normalize(branches), nil
}

func (c *BranchCatalog) fromSource(ctx context.Context) ([]int, error) {
	if c.CacheTTL > 0 {
		var cached []int
		found, err := config.GetRedisObject(ctx, branchCacheKey, &cached)
		if err != nil {
			c.warn("branch cache read failed: " + err.Error())
		} else if found {
			return cached, nil
		}
	}

	branches, err := c.Source.ListActiveBranches(ctx)
	if err != nil {
		return nil, fmt.Errorf("enumerate branches: %w", err)
	}
	if c.CacheTTL > 0 {
		if err := config.SetRedisObject(ctx, branchCacheKey, branches, c.CacheTTL); err != nil {
			c.warn("branch cache write failed: " + err.Error())
		}
	}
	return branches, nil
}

func (c *BranchCatalog) normalize(branches []int) []int {
	excluded := map[int]bool{}
	if c.Override != nil {
		for _, b := range c.Override.Exclude {
			excluded[b] = true
		}
	}
	seen := map[int]bool{}
	out := make([]int, 0, len(branches))
	for _, b := range branches {
		if excluded[b] || seen[b] {
			continue
		}
		seen[b] = true
		out = append(out, b)
	}
	sort.Ints(out)
	return out
}

func (c *BranchCatalog) warn(msg string) {
	if c.Logger != nil {
		c.Logger.WithFields(logrus.Fields{"field": "BranchCatalog"}).Warn(msg)
	}
}
