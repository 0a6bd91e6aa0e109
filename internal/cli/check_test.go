package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shinji-kodama/workshop-hub/internal/docker"
	"github.com/shinji-kodama/workshop-hub/internal/model"
)

// boundProber reports the listed ports as bound.
type boundProber map[int]bool

func (b boundProber) IsPortAvailable(port int, _ string) bool { return !b[port] }

func hubContainer(name, user, state string, labelPorts map[string]int, published ...int) docker.HubContainer {
	c := docker.HubContainer{
		ID:     name + "-id",
		Name:   name,
		State:  state,
		Labels: &docker.HubLabels{User: user, Ports: labelPorts},
	}
	for _, p := range published {
		c.Published = append(c.Published, model.PortBinding{ContainerPort: 22, HostIP: "0.0.0.0", HostPort: p, Protocol: "tcp"})
	}
	return c
}

var sshAssignments = []model.PortAssignment{
	{User: "alice", Port: 22223},
	{User: "bob", Port: 22224},
}

// TestAudit_Clean verifies that a running container publishing its own
// assigned port is not reported.
func TestAudit_Clean(t *testing.T) {
	got := auditRegistry(auditInput{
		Registry:    "ssh",
		Protocol:    "tcp",
		Assignments: sshAssignments,
		Prober:      boundProber{22223: true},
		Containers: []docker.HubContainer{
			hubContainer("ml-workshop-user-alice", "alice", "running", map[string]int{"ssh": 22223}, 22223),
		},
		DockerKnown: true,
	})
	assert.Empty(t, got)
}

// TestAudit_HostBound verifies that a bound port without its owner's
// running container is a conflict.
func TestAudit_HostBound(t *testing.T) {
	in := auditInput{
		Registry:    "ssh",
		Protocol:    "tcp",
		Assignments: sshAssignments,
		Prober:      boundProber{22224: true},
		Containers: []docker.HubContainer{
			hubContainer("ml-workshop-user-bob", "bob", "exited", map[string]int{"ssh": 22224}),
		},
		DockerKnown: true,
	}
	got := auditRegistry(in)
	require.Len(t, got, 1)
	assert.Equal(t, kindHostBound, got[0].Kind)
	assert.Equal(t, severityConflict, got[0].Severity)
	assert.Equal(t, "bob", got[0].User)
	assert.Equal(t, 22224, got[0].Port)
	assert.Equal(t, 1, countConflicts(got))

	// Without container information the same finding is only drift.
	in.Containers = nil
	in.DockerKnown = false
	got = auditRegistry(in)
	require.Len(t, got, 1)
	assert.Equal(t, severityDrift, got[0].Severity)
	assert.Equal(t, 0, countConflicts(got))
}

// TestAudit_ForeignContainer verifies that another user's container holding
// an assigned port is reported against the owner.
func TestAudit_ForeignContainer(t *testing.T) {
	got := auditRegistry(auditInput{
		Registry:    "ssh",
		Protocol:    "tcp",
		Assignments: sshAssignments,
		Containers: []docker.HubContainer{
			hubContainer("ml-workshop-user-bob", "bob", "running", map[string]int{"ssh": 22224}, 22223),
		},
		DockerKnown: true,
	})

	require.Len(t, got, 1)
	assert.Equal(t, kindForeignContainer, got[0].Kind)
	assert.Equal(t, "alice", got[0].User)
	assert.Equal(t, "ml-workshop-user-bob", got[0].Container)
}

func TestAudit_LabelDrift(t *testing.T) {
	got := auditRegistry(auditInput{
		Registry:    "ssh",
		Protocol:    "tcp",
		Assignments: sshAssignments,
		Containers: []docker.HubContainer{
			hubContainer("ml-workshop-user-alice", "alice", "exited", map[string]int{"ssh": 22230}),
			hubContainer("ml-workshop-user-carol", "carol", "exited", map[string]int{"ssh": 22225}),
			hubContainer("ml-workshop-user-dave", "dave", "exited", map[string]int{"openclaw": 18790}),
		},
		DockerKnown: true,
	})

	require.Len(t, got, 2)
	assert.Equal(t, kindLabelDrift, got[0].Kind)
	assert.Equal(t, "alice", got[0].User)
	assert.Equal(t, 22223, got[0].Port)
	assert.Equal(t, kindUnassigned, got[1].Kind)
	assert.Equal(t, "carol", got[1].User)
	assert.Equal(t, 0, countConflicts(got))
}

// TestAudit_UnreadableLabels verifies containers without a hub user are
// skipped rather than reported.
func TestAudit_UnreadableLabels(t *testing.T) {
	got := auditRegistry(auditInput{
		Registry:    "ssh",
		Assignments: sshAssignments,
		Containers:  []docker.HubContainer{{Name: "broken", State: "running"}},
		DockerKnown: true,
	})
	assert.Empty(t, got)
}

func TestRenderFindings(t *testing.T) {
	assert.Equal(t, "No drift found.\n", renderFindings(nil))

	out := renderFindings([]finding{{
		Severity: severityConflict,
		Kind:     kindHostBound,
		Registry: "ssh",
		User:     "bob",
		Port:     22224,
		Detail:   "bound",
	}})
	assert.Contains(t, out, "SEVERITY")
	assert.Contains(t, out, "host-bound")
	assert.Contains(t, out, "22224")
}
