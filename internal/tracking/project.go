// SPDX-License-Identifier: AGPL-3.0-or-later

package tracking

import (
	"context"
	"errors"
	"os"
	"strings"
)

// Environment variables naming the active project, as exported by the W&B
// tooling for the current session.
const (
	EnvEntity      = "WANDB_ENTITY"
	EnvProjectName = "WANDB_PROJECT"
)

// ErrNoActiveProject is returned when no resolver can name a project.
var ErrNoActiveProject = errors.New("no active tracking project")

// Project is the team/project scope runs are listed under.
type Project struct {
	Entity string
	Name   string
}

// Complete reports whether both names are set.
func (p Project) Complete() bool {
	return strings.TrimSpace(p.Entity) != "" && strings.TrimSpace(p.Name) != ""
}

func (p Project) String() string {
	return p.Entity + "/" + p.Name
}

// ProjectResolver names the project a sync should read from.
type ProjectResolver interface {
	ResolveProject(ctx context.Context) (Project, error)
}

// StaticProject resolves to a fixed project, typically from CLI flags.
type StaticProject Project

func (s StaticProject) ResolveProject(context.Context) (Project, error) {
	p := Project(s)
	if p.Entity == "" && p.Name == "" {
		return Project{}, ErrNoActiveProject
	}
	return Project{Entity: strings.TrimSpace(p.Entity), Name: strings.TrimSpace(p.Name)}, nil
}

// EnvProject resolves from WANDB_ENTITY and WANDB_PROJECT. LookupEnv defaults
// to os.LookupEnv.
type EnvProject struct {
	LookupEnv func(string) (string, bool)
}

func (e EnvProject) ResolveProject(context.Context) (Project, error) {
	lookup := e.LookupEnv
	if lookup == nil {
		lookup = os.LookupEnv
	}
	entity, okEntity := lookup(EnvEntity)
	name, okName := lookup(EnvProjectName)
	if !okEntity && !okName {
		return Project{}, ErrNoActiveProject
	}
	return Project{Entity: strings.TrimSpace(entity), Name: strings.TrimSpace(name)}, nil
}

// ResolverChain tries each resolver in order and returns the first complete
// project. Partial answers are merged, so a flag can supply the project
// while the environment supplies the entity.
type ResolverChain []ProjectResolver

func (c ResolverChain) ResolveProject(ctx context.Context) (Project, error) {
	var merged Project
	found := false
	for _, r := range c {
		if r == nil {
			continue
		}
		p, err := r.ResolveProject(ctx)
		if errors.Is(err, ErrNoActiveProject) {
			continue
		}
		if err != nil {
			return Project{}, err
		}
		found = true
		if merged.Entity == "" {
			merged.Entity = p.Entity
		}
		if merged.Name == "" {
			merged.Name = p.Name
		}
		if merged.Complete() {
			return merged, nil
		}
	}
	if !found {
		return Project{}, ErrNoActiveProject
	}
	return merged, nil
}
