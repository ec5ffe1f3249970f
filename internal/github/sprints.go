package github

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// SprintFieldName is the ProjectV2 field holding iteration assignments.
const SprintFieldName = "Sprint"

// sprintQuery pulls the iteration configuration of every project attached
// to a repository. Projects without the field come back as null nodes.
const sprintQuery = `query($owner: String!, $name: String!, $field: String!) {
  repository(owner: $owner, name: $name) {
    projectsV2(first: 20) {
      nodes {
        field(name: $field) {
          ... on ProjectV2IterationField {
            configuration {
              iterations { id title startDate duration }
              completedIterations { id title startDate duration }
            }
          }
        }
      }
    }
  }
}`

// Iteration is one sprint slot of a ProjectV2 iteration field. The API
// reports a start date and a duration in days; there is no end date.
type Iteration struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	StartDate string `json:"startDate"`
	Duration  int    `json:"duration"`
}

// IterationSet splits a repository's iterations by completion.
type IterationSet struct {
	Active    []Iteration
	Completed []Iteration
}

// ListSprintIterations queries the GraphQL endpoint for the iterations of
// the repository's project sprint fields. Iterations are aggregated across
// every attached project.
func (c *Client) ListSprintIterations(ctx context.Context, repo string) (*IterationSet, error) {
	owner, name, ok := strings.Cut(repo, "/")
	if !ok {
		return nil, fmt.Errorf("invalid repository %q, want owner/name", repo)
	}
	payload := map[string]any{
		"query": sprintQuery,
		"variables": map[string]any{
			"owner": owner,
			"name":  name,
			"field": SprintFieldName,
		},
	}
	respBody, _, err := c.doRequest(ctx, http.MethodPost, c.buildURL("/graphql", nil), payload)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch sprint iterations for %s: %w", repo, err)
	}

	var resp struct {
		Data struct {
			Repository struct {
				ProjectsV2 struct {
					Nodes []struct {
						Field *struct {
							Configuration struct {
								Iterations          []Iteration `json:"iterations"`
								CompletedIterations []Iteration `json:"completedIterations"`
							} `json:"configuration"`
						} `json:"field"`
					} `json:"nodes"`
				} `json:"projectsV2"`
			} `json:"repository"`
		} `json:"data"`
		Errors []struct {
			Message string `json:"message"`
		} `json:"errors"`
	}
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse sprint response: %w", err)
	}
	if len(resp.Errors) > 0 {
		return nil, fmt.Errorf("graphql error fetching sprints for %s: %s", repo, resp.Errors[0].Message)
	}

	set := &IterationSet{}
	for _, node := range resp.Data.Repository.ProjectsV2.Nodes {
		if node.Field == nil {
			continue
		}
		set.Active = append(set.Active, node.Field.Configuration.Iterations...)
		set.Completed = append(set.Completed, node.Field.Configuration.CompletedIterations...)
	}
	return set, nil
}

// dates parses the iteration window. The sprint's last day is the start
// date plus duration minus one.
func (it Iteration) dates() (start, end time.Time, err error) {
	start, err = time.Parse("2006-01-02", it.StartDate)
	if err != nil {
		return start, end, fmt.Errorf("sprint %q has invalid start date %q: %w", it.Title, it.StartDate, err)
	}
	return start, start.AddDate(0, 0, it.Duration-1), nil
}
