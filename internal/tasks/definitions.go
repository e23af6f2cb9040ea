package tasks

import (
	"time"

	"github.com/sirupsen/logrus"

	"github.com/dilipbglr/groupbuy-whatsapp-platform/internal/services"
)

// Dependencies are the collaborators task handlers run against
type Dependencies struct {
	Lifecycle *services.LifecycleService
	Store     services.DealStore
	Messenger services.Messenger
	Scheduler TaskScheduler
	Logger    logrus.FieldLogger
}

// DefineTasks registers all available tasks on r
func DefineTasks(r *Registry, deps Dependencies) {
	finalize := &FinalizeExpiredDealsTaskDef{lifecycle: deps.Lifecycle}
	r.Register(finalize.TaskID(), finalize.HandleExecution)

	activate := &ActivateScheduledDealsTaskDef{lifecycle: deps.Lifecycle}
	r.Register(activate.TaskID(), activate.HandleExecution)

	notify := &NotifyDealParticipantsTaskDef{
		store:      deps.Store,
		messenger:  deps.Messenger,
		scheduler:  deps.Scheduler,
		logger:     deps.Logger,
		retryDelay: 5 * time.Minute,
	}
	r.Register(notify.TaskID(), notify.HandleExecution)
}
