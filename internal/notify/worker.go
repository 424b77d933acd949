package notify

import (
	"github.com/filswan/go-mcs-sdk/mcs/api/common/logs"
	"github.com/lagrangedao/go-computing-market/constants"
)

// AccessTask is the worker side of an access task. Its arguments follow TaskArgs.
type AccessTask func(entityId, nodeId, endpoint, user, expiresAt string) string

// LogTask returns a task that only logs what the provisioning daemon would do.
// It lets a market run end to end without the ssh daemon.
func LogTask(taskName string) AccessTask {
	return func(entityId, nodeId, endpoint, user, expiresAt string) string {
		switch taskName {
		case constants.TASK_ACCESS_GRANT:
			logs.GetLogger().Infof("grant %s access to node %s (%s) for %s until %s", user, nodeId, endpoint, entityId, expiresAt)
		case constants.TASK_ACCESS_REVOKE:
			logs.GetLogger().Infof("revoke %s access to node %s (%s) for %s", user, nodeId, endpoint, entityId)
		default:
			logs.GetLogger().Warnf("unknown access task %s for %s", taskName, entityId)
		}
		return entityId
	}
}

// RegisterAccessTasks registers the access task handlers on a celery worker.
func RegisterAccessTasks(s *CeleryService, task func(taskName string) AccessTask) {
	for _, name := range []string{constants.TASK_ACCESS_GRANT, constants.TASK_ACCESS_REVOKE} {
		s.RegisterTask(name, (func(string, string, string, string, string) string)(task(name)))
	}
}
