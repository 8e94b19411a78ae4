// Package treemerge drives the three-way merge of an entire unpacked
// source tree, per spec §4.3: files present in the base are merged
// against their left/right counterparts, files new on one side are
// copied in (files new on both sides are taken when identical and
// conflict otherwise), and .po files are merged in
// a final deferred pass once every .pot in the tree has settled.
package treemerge

import (
	"context"
	"sort"

	"github.com/momcore/merge-o-matic/internal/filemerge"
	"github.com/momcore/merge-o-matic/internal/permissions"
	"github.com/momcore/merge-o-matic/internal/sourcetree"
	"github.com/momcore/merge-o-matic/internal/toolexec"
)

// Sides names the two non-base trees being merged, for diff3 labels
// and conflict-file suffixes.
type Sides struct {
	LeftDir, LeftName, LeftDistro    string
	RightDir, RightName, RightDistro string
}

// Merge three-way merges baseDir/leftDir/rightDir into mergedDir
// (which must already exist) and returns the sorted list of paths
// left in conflict.
func Merge(ctx context.Context, tools toolexec.Tools, baseDir string, sides Sides, mergedDir string) ([]string, error) {
	d := &filemerge.Dispatcher{
		Tools:       tools,
		LeftName:    sides.LeftName,
		RightName:   sides.RightName,
		LeftDistro:  sides.LeftDistro,
		RightDistro: sides.RightDistro,
	}

	var conflicts []string
	var poFiles []string

	if baseDir != "" {
		baseNames, err := sourcetree.Walk(baseDir)
		if err != nil {
			return nil, err
		}
		for _, name := range baseNames {
			baseStat, err := sourcetree.Lstat(baseDir, name)
			if err != nil {
				return nil, err
			}
			leftStat, err := sourcetree.Lstat(sides.LeftDir, name)
			if err != nil {
				return nil, err
			}
			rightStat, err := sourcetree.Lstat(sides.RightDir, name)
			if err != nil {
				return nil, err
			}

			switch {
			case leftStat == nil && rightStat == nil:
				// removed on both sides; nothing to do.

			case leftStat == nil:
				same, err := sourcetree.Same(baseStat, baseDir, rightStat, sides.RightDir, name)
				if err != nil {
					return nil, err
				}
				if !same {
					if err := d.ConflictFile(sides.LeftDir, sides.RightDir, mergedDir, name); err != nil {
						return nil, err
					}
					conflicts = append(conflicts, name)
				}

			case rightStat == nil:
				same, err := sourcetree.Same(baseStat, baseDir, leftStat, sides.LeftDir, name)
				if err != nil {
					return nil, err
				}
				if !same {
					if err := d.ConflictFile(sides.LeftDir, sides.RightDir, mergedDir, name); err != nil {
						return nil, err
					}
					conflicts = append(conflicts, name)
				}

			case leftStat.Mode().IsRegular() && rightStat.Mode().IsRegular():
				conflict, po, err := d.HandleFile(ctx, baseDir, baseStat, sides.LeftDir, sides.RightDir, mergedDir, name)
				if err != nil {
					return nil, err
				}
				switch {
				case po:
					poFiles = append(poFiles, name)
				case conflict:
					conflicts = append(conflicts, name)
				default:
					if err := permissions.Reconcile(baseDir, sides.LeftDir, sides.RightDir, mergedDir, name); err != nil {
						return nil, err
					}
				}

			default:
				if err := mergeNonRegular(d, baseDir, sides, mergedDir, name, &conflicts); err != nil {
					return nil, err
				}
			}
		}
	}

	if err := mergeLeftOnly(ctx, d, baseDir, sides, mergedDir, &conflicts, &poFiles); err != nil {
		return nil, err
	}
	if err := mergeRightOnly(baseDir, sides, mergedDir); err != nil {
		return nil, err
	}

	for _, name := range poFiles {
		conflict, err := d.MergePO(ctx, sides.LeftDir, sides.RightDir, mergedDir, name)
		if err != nil {
			return nil, err
		}
		if conflict {
			if err := d.ConflictFile(sides.LeftDir, sides.RightDir, mergedDir, name); err != nil {
				return nil, err
			}
			conflicts = append(conflicts, name)
			continue
		}
		if err := permissions.Reconcile(baseDir, sides.LeftDir, sides.RightDir, mergedDir, name); err != nil {
			return nil, err
		}
	}

	sort.Strings(conflicts)
	return conflicts, nil
}

// mergeNonRegular handles a base-tracked entry that isn't a
// left-regular/right-regular pair (directories, symlinks, device
// nodes, or a type change between sides).
func mergeNonRegular(d *filemerge.Dispatcher, baseDir string, sides Sides, mergedDir, name string, conflicts *[]string) error {
	leftStat, err := sourcetree.Lstat(sides.LeftDir, name)
	if err != nil {
		return err
	}
	rightStat, err := sourcetree.Lstat(sides.RightDir, name)
	if err != nil {
		return err
	}
	baseFI, err := sourcetree.Lstat(baseDir, name)
	if err != nil {
		return err
	}

	if same, err := sourcetree.Same(leftStat, sides.LeftDir, rightStat, sides.RightDir, name); err != nil {
		return err
	} else if same {
		return sourcetree.CopyFile(pathJoin(sides.RightDir, name), pathJoin(mergedDir, name))
	}
	if same, err := sourcetree.Same(baseFI, baseDir, leftStat, sides.LeftDir, name); err != nil {
		return err
	} else if same {
		return sourcetree.CopyFile(pathJoin(sides.RightDir, name), pathJoin(mergedDir, name))
	}
	if same, err := sourcetree.Same(baseFI, baseDir, rightStat, sides.RightDir, name); err != nil {
		return err
	} else if same {
		return sourcetree.CopyFile(pathJoin(sides.LeftDir, name), pathJoin(mergedDir, name))
	}
	if err := d.ConflictFile(sides.LeftDir, sides.RightDir, mergedDir, name); err != nil {
		return err
	}
	*conflicts = append(*conflicts, name)
	return nil
}

func mergeLeftOnly(ctx context.Context, d *filemerge.Dispatcher, baseDir string, sides Sides, mergedDir string, conflicts, poFiles *[]string) error {
	names, err := sourcetree.Walk(sides.LeftDir)
	if err != nil {
		return err
	}
	for _, name := range names {
		if baseDir != "" && sourcetree.Exists(pathJoin(baseDir, name)) {
			continue
		}
		if !sourcetree.Exists(pathJoin(sides.RightDir, name)) {
			if err := sourcetree.CopyFile(pathJoin(sides.LeftDir, name), pathJoin(mergedDir, name)); err != nil {
				return err
			}
			continue
		}

		leftStat, err := sourcetree.Lstat(sides.LeftDir, name)
		if err != nil {
			return err
		}
		rightStat, err := sourcetree.Lstat(sides.RightDir, name)
		if err != nil {
			return err
		}
		if leftStat.Mode().IsRegular() && rightStat.Mode().IsRegular() {
			conflict, po, err := d.HandleFile(ctx, "", nil, sides.LeftDir, sides.RightDir, mergedDir, name)
			if err != nil {
				return err
			}
			switch {
			case po:
				*poFiles = append(*poFiles, name)
			case conflict:
				*conflicts = append(*conflicts, name)
			default:
				if err := permissions.Reconcile("", sides.LeftDir, sides.RightDir, mergedDir, name); err != nil {
					return err
				}
			}
			continue
		}
		same, err := sourcetree.Same(leftStat, sides.LeftDir, rightStat, sides.RightDir, name)
		if err != nil {
			return err
		}
		if same {
			if err := sourcetree.CopyFile(pathJoin(sides.RightDir, name), pathJoin(mergedDir, name)); err != nil {
				return err
			}
			continue
		}
		if err := d.ConflictFile(sides.LeftDir, sides.RightDir, mergedDir, name); err != nil {
			return err
		}
		*conflicts = append(*conflicts, name)
	}
	return nil
}

func mergeRightOnly(baseDir string, sides Sides, mergedDir string) error {
	names, err := sourcetree.Walk(sides.RightDir)
	if err != nil {
		return err
	}
	for _, name := range names {
		if baseDir != "" && sourcetree.Exists(pathJoin(baseDir, name)) {
			continue
		}
		if sourcetree.Exists(pathJoin(sides.LeftDir, name)) {
			continue
		}
		if err := sourcetree.CopyFile(pathJoin(sides.RightDir, name), pathJoin(mergedDir, name)); err != nil {
			return err
		}
	}
	return nil
}

func pathJoin(dir, name string) string {
	if dir == "" {
		return name
	}
	return dir + "/" + name
}
