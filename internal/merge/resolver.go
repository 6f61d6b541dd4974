package merge

import (
	"context"
	"fmt"
	"strings"

	"github.com/srhall/gitcrew/internal/errors"
	"github.com/srhall/gitcrew/internal/logging"
)

// Strategy picks which side of a conflict block survives.
type Strategy string

const (
	// StrategyUnion keeps both sides, ours first. Works for additive
	// conflicts like parallel list or import growth.
	StrategyUnion Strategy = "union"
	// StrategyOurs keeps the integration branch's side.
	StrategyOurs Strategy = "ours"
	// StrategyTheirs keeps the incoming branch's side.
	StrategyTheirs Strategy = "theirs"
)

// RuleResolver settles conflicts mechanically, block by block, without any
// reasoning backend.
type RuleResolver struct {
	Strategy Strategy
	Logger   *logging.Logger
}

func NewRuleResolver(strategy Strategy, logger *logging.Logger) *RuleResolver {
	if logger == nil {
		logger = logging.NopLogger()
	}
	if strategy == "" {
		strategy = StrategyUnion
	}
	return &RuleResolver{Strategy: strategy, Logger: logger}
}

func (r *RuleResolver) ResolveConflicts(ctx context.Context, req Request, tools ConflictTools) error {
	files, err := tools.ListConflicts(ctx)
	if err != nil {
		return err
	}
	for _, file := range files {
		content, err := tools.GetContent(ctx, file)
		if err != nil {
			return err
		}
		merged, err := resolveMarkers(content.Full, r.Strategy)
		if err != nil {
			return errors.NewGitError(
				fmt.Sprintf("cannot mechanically resolve %s", file), err)
		}
		if err := tools.Resolve(ctx, file, merged); err != nil {
			return err
		}
		r.Logger.Info("conflict resolved", "file", file, "strategy", string(r.Strategy))
	}

	committed, err := tools.CompleteMerge(ctx, fmt.Sprintf("Merge branch '%s'", req.Branch))
	if err != nil {
		return err
	}
	if !committed {
		return errors.NewGitError("merge did not complete", errors.ErrUnresolvedConflicts).
			WithBranch(req.Branch)
	}
	return nil
}

// resolveMarkers rewrites conflicted content, replacing each marker block
// according to the strategy. Content outside blocks passes through.
func resolveMarkers(full string, strategy Strategy) (string, error) {
	var (
		out     []string
		ours    []string
		theirs  []string
		section int // 0 outside, 1 ours, 2 theirs
	)
	lines := strings.Split(full, "\n")
	for _, line := range lines {
		switch {
		case strings.HasPrefix(line, "<<<<<<<"):
			if section != 0 {
				return "", fmt.Errorf("nested conflict markers")
			}
			section = 1
		case strings.HasPrefix(line, "=======") && section == 1:
			section = 2
		case strings.HasPrefix(line, ">>>>>>>"):
			if section != 2 {
				return "", fmt.Errorf("malformed conflict markers")
			}
			switch strategy {
			case StrategyOurs:
				out = append(out, ours...)
			case StrategyTheirs:
				out = append(out, theirs...)
			default:
				out = append(out, ours...)
				out = append(out, theirs...)
			}
			ours, theirs = nil, nil
			section = 0
		default:
			switch section {
			case 0:
				out = append(out, line)
			case 1:
				ours = append(ours, line)
			case 2:
				theirs = append(theirs, line)
			}
		}
	}
	if section != 0 {
		return "", fmt.Errorf("unterminated conflict block")
	}
	return strings.Join(out, "\n"), nil
}
