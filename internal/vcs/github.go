package vcs

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/vibetree/vibetree/internal/models"
)

// prJSONFields is the gh --json field set the scanner depends on.
const prJSONFields = "number,title,state,url,headRefName,isDraft,labels,assignees,reviewDecision,statusCheckRollup,additions,deletions,changedFiles"

var remoteURLPattern = regexp.MustCompile(`[:/]([^/:]+)/([^/]+?)(\.git)?$`)

func (c *Client) gh(ctx context.Context, dir string, args ...string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, NetworkTimeout)
	defer cancel()
	return c.run.Run(ctx, dir, "gh", args...)
}

type ghPR struct {
	Number      int    `json:"number"`
	Title       string `json:"title"`
	State       string `json:"state"`
	URL         string `json:"url"`
	HeadRefName string `json:"headRefName"`
	IsDraft     bool   `json:"isDraft"`
	Labels      []struct {
		Name string `json:"name"`
	} `json:"labels"`
	Assignees []struct {
		Login string `json:"login"`
	} `json:"assignees"`
	ReviewDecision    string `json:"reviewDecision"`
	StatusCheckRollup []struct {
		Conclusion string `json:"conclusion"`
	} `json:"statusCheckRollup"`
	Additions    int `json:"additions"`
	Deletions    int `json:"deletions"`
	ChangedFiles int `json:"changedFiles"`
}

func (p ghPR) toModel() models.PullRequest {
	pr := models.PullRequest{
		Number:         p.Number,
		Title:          p.Title,
		State:          p.State,
		URL:            p.URL,
		Branch:         p.HeadRefName,
		Draft:          p.IsDraft,
		ReviewDecision: p.ReviewDecision,
		Additions:      p.Additions,
		Deletions:      p.Deletions,
		ChangedFiles:   p.ChangedFiles,
	}
	for _, l := range p.Labels {
		pr.Labels = append(pr.Labels, l.Name)
	}
	for _, a := range p.Assignees {
		pr.Assignees = append(pr.Assignees, a.Login)
	}
	pr.Checks = rollupConclusion(p.StatusCheckRollup)
	return pr
}

func rollupConclusion(rollup []struct {
	Conclusion string `json:"conclusion"`
}) models.CheckConclusion {
	if len(rollup) == 0 {
		return ""
	}
	pending := false
	for _, check := range rollup {
		switch strings.ToUpper(check.Conclusion) {
		case "FAILURE", "TIMED_OUT", "CANCELLED", "ACTION_REQUIRED":
			return models.ChecksFailure
		case "SUCCESS", "NEUTRAL", "SKIPPED":
		default:
			pending = true
		}
	}
	if pending {
		return models.ChecksPending
	}
	return models.ChecksSuccess
}

// ListPRs fetches open and recently updated PRs for the repo at repoPath.
func (c *Client) ListPRs(ctx context.Context, repoPath string) ([]models.PullRequest, error) {
	out, err := c.gh(ctx, repoPath, "pr", "list", "--state", "all",
		"--json", prJSONFields, "--limit", "100")
	if err != nil {
		return nil, err
	}
	var raw []ghPR
	if err := json.Unmarshal(out, &raw); err != nil {
		return nil, fmt.Errorf("parsing gh pr list output: %w (raw: %.200s)", err, string(out))
	}
	prs := make([]models.PullRequest, 0, len(raw))
	for _, p := range raw {
		prs = append(prs, p.toModel())
	}
	return prs, nil
}

// PRForBranch returns the PR whose head is branch, nil when none exists.
func (c *Client) PRForBranch(ctx context.Context, repoPath, branch string) (*models.PullRequest, error) {
	out, err := c.gh(ctx, repoPath, "pr", "list", "--head", branch, "--state", "all",
		"--json", prJSONFields, "--limit", "1")
	if err != nil {
		return nil, err
	}
	var raw []ghPR
	if err := json.Unmarshal(out, &raw); err != nil {
		return nil, fmt.Errorf("parsing gh pr list output: %w (raw: %.200s)", err, string(out))
	}
	if len(raw) == 0 {
		return nil, nil
	}
	pr := raw[0].toModel()
	return &pr, nil
}

// CreatePR opens a PR for head against base and returns its URL.
func (c *Client) CreatePR(ctx context.Context, repoPath, head, base, title, body string) (string, error) {
	out, err := c.gh(ctx, repoPath, "pr", "create",
		"--head", head, "--base", base, "--title", title, "--body", body)
	if err != nil {
		return "", err
	}
	// gh prints the PR URL as the last line of stdout.
	lines := strings.Fields(strings.TrimSpace(string(out)))
	for i := len(lines) - 1; i >= 0; i-- {
		if strings.HasPrefix(lines[i], "https://") {
			return lines[i], nil
		}
	}
	return strings.TrimSpace(string(out)), nil
}

func (c *Client) ghDefaultBranch(ctx context.Context, repoPath string) (string, error) {
	out, err := c.gh(ctx, repoPath, "repo", "view", "--json", "defaultBranchRef")
	if err != nil {
		return "", err
	}
	var view struct {
		DefaultBranchRef struct {
			Name string `json:"name"`
		} `json:"defaultBranchRef"`
	}
	if err := json.Unmarshal(out, &view); err != nil {
		return "", fmt.Errorf("parsing gh repo view output: %w (raw: %.200s)", err, string(out))
	}
	return view.DefaultBranchRef.Name, nil
}

// RepoSummary is one entry from the hosting CLI's repo list.
type RepoSummary struct {
	NameWithOwner string `json:"nameWithOwner"`
	Description   string `json:"description"`
	URL           string `json:"url"`
	IsPrivate     bool   `json:"isPrivate"`
}

// ListRepos lists the authenticated user's repositories.
func (c *Client) ListRepos(ctx context.Context) ([]RepoSummary, error) {
	out, err := c.gh(ctx, "", "repo", "list", "--json", "nameWithOwner,description,url,isPrivate", "--limit", "100")
	if err != nil {
		return nil, err
	}
	var repos []RepoSummary
	if err := json.Unmarshal(out, &repos); err != nil {
		return nil, fmt.Errorf("parsing gh repo list output: %w (raw: %.200s)", err, string(out))
	}
	return repos, nil
}

// RepoView fetches metadata for one repo by owner/name.
func (c *Client) RepoView(ctx context.Context, nameWithOwner string) (json.RawMessage, error) {
	out, err := c.gh(ctx, "", "repo", "view", nameWithOwner,
		"--json", "nameWithOwner,description,url,defaultBranchRef,isPrivate,updatedAt")
	if err != nil {
		return nil, err
	}
	return json.RawMessage(out), nil
}

// localIDs remembers which absolute path first claimed each local/<basename>
// id so same-named checkouts get hash-suffixed ids instead of colliding.
var localIDs sync.Map // plain id -> absolute path

// RepoID resolves the repo id: gh nameWithOwner, then the origin URL, else
// local/<basename>.
func (c *Client) RepoID(ctx context.Context, repoPath string) string {
	if out, err := c.gh(ctx, repoPath, "repo", "view", "--json", "nameWithOwner"); err == nil {
		var view struct {
			NameWithOwner string `json:"nameWithOwner"`
		}
		if json.Unmarshal(out, &view) == nil && view.NameWithOwner != "" {
			return view.NameWithOwner
		}
	}

	if url, err := c.RemoteOriginURL(ctx, repoPath); err == nil && url != "" {
		if m := remoteURLPattern.FindStringSubmatch(url); m != nil {
			return m[1] + "/" + m[2]
		}
	}

	abs, err := filepath.Abs(repoPath)
	if err != nil {
		abs = repoPath
	}
	id := "local/" + filepath.Base(abs)
	if prev, loaded := localIDs.LoadOrStore(id, abs); loaded && prev.(string) != abs {
		h := fnv.New32a()
		_, _ = h.Write([]byte(abs))
		id = fmt.Sprintf("%s-%08x", id, h.Sum32())
	}
	return id
}

// now is swapped in heartbeat tests.
var now = time.Now
