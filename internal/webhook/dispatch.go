package webhook

import (
	"strings"

	"patchwork-bot/internal/domain"
	"patchwork-bot/internal/ghapi"

	"github.com/tidwall/gjson"
)

// Commands recognized in PR and comment bodies. Matching is a case-sensitive
// substring check, same as the chat-ops convention the bot documents.
const (
	cmdReview  = "/patchwork review"
	cmdAutofix = "/patchwork autofix"
)

// Dispatch maps one verified delivery to the tasks it triggers. An empty
// result means the event is ignored. Payloads are probed with gjson; a
// malformed or incomplete payload simply dispatches nothing.
//
// Rules:
//   - pull_request opened: implicit review, plus autofix if the PR body
//     carries the command. Review never needs a command on open.
//   - pull_request reopened / synchronize: review of the current head.
//   - issue_comment created on a PR thread: whatever commands the new
//     comment body carries.
//   - autofix is never automatic; it only ever runs on an explicit command.
func Dispatch(event, deliveryID string, body []byte) []domain.Task {
	switch event {
	case "pull_request":
		return dispatchPullRequest(deliveryID, body)
	case "issue_comment":
		return dispatchComment(deliveryID, body)
	default:
		return nil
	}
}

func dispatchPullRequest(deliveryID string, body []byte) []domain.Task {
	action := gjson.GetBytes(body, "action").String()

	base, ok := taskBase(deliveryID, body, int(gjson.GetBytes(body, "pull_request.number").Int()))
	if !ok {
		return nil
	}
	base.Trigger = action

	switch action {
	case "opened":
		tasks := []domain.Task{withAction(base, domain.ActionReview)}
		if strings.Contains(gjson.GetBytes(body, "pull_request.body").String(), cmdAutofix) {
			tasks = append(tasks, withAction(base, domain.ActionAutofix))
		}
		return tasks
	case "reopened", "synchronize":
		return []domain.Task{withAction(base, domain.ActionReview)}
	default:
		return nil
	}
}

func dispatchComment(deliveryID string, body []byte) []domain.Task {
	if gjson.GetBytes(body, "action").String() != "created" {
		return nil
	}
	// Only comments on pull requests; plain issues carry no PR reference.
	if !gjson.GetBytes(body, "issue.pull_request").Exists() {
		return nil
	}

	base, ok := taskBase(deliveryID, body, int(gjson.GetBytes(body, "issue.number").Int()))
	if !ok {
		return nil
	}
	base.Trigger = "comment"

	comment := gjson.GetBytes(body, "comment.body").String()
	var tasks []domain.Task
	if strings.Contains(comment, cmdReview) {
		tasks = append(tasks, withAction(base, domain.ActionReview))
	}
	if strings.Contains(comment, cmdAutofix) {
		tasks = append(tasks, withAction(base, domain.ActionAutofix))
	}
	return tasks
}

func taskBase(deliveryID string, body []byte, number int) (domain.Task, bool) {
	fullName := gjson.GetBytes(body, "repository.full_name").String()
	owner, repo, ok := ghapi.SplitFullName(fullName)
	if !ok || number <= 0 {
		return domain.Task{}, false
	}
	return domain.Task{
		Owner:          owner,
		Repo:           repo,
		RepoFullName:   fullName,
		Number:         number,
		InstallationID: gjson.GetBytes(body, "installation.id").Int(),
		DeliveryID:     deliveryID,
	}, true
}

func withAction(base domain.Task, action domain.TaskAction) domain.Task {
	base.Action = action
	return base
}
