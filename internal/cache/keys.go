package cache

// Key builders for cached dashboard queries.

// ExecutionsKey covers the agent execution list of a workflow.
func ExecutionsKey(workflowID string) string {
	return "executions:" + workflowID
}

// WorkflowKey covers a single workflow's detail view.
func WorkflowKey(workflowID string) string {
	return "workflow:" + workflowID
}

// WorkflowsKey covers the workflow list.
func WorkflowsKey() string {
	return "workflows"
}

// MessagesKey covers a workflow's inter-agent message log.
func MessagesKey(workflowID string) string {
	return "messages:" + workflowID
}

// ArtifactsKey covers the artifacts of one agent. An empty agentID covers
// all agents in the workflow.
func ArtifactsKey(workflowID, agentID string) string {
	if agentID == "" {
		return "artifacts:" + workflowID
	}
	return "artifacts:" + workflowID + ":" + agentID
}
