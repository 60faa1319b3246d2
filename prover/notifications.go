package prover

import (
	"encoding/json"
	"fmt"

	natsutil "github.com/kthomas/go-natsutil"
	"github.com/nats-io/nats.go"

	"github.com/fatlabsxyz/privacy-pools-client/common"
)

const natsProofNotificationCompleted = "completed"
const natsProofNotificationFailed = "failed"

// dispatchNotification broadcasts a proof lifecycle event to qualified subjects
func (c *Prover) dispatchNotification(event string, params map[string]interface{}) (*nats.PubAck, error) {
	prefix := c.notificationsSubjectPrefix()
	if prefix == nil {
		return nil, fmt.Errorf("failed to dispatch event notification for prover %s; nil prefix", c.ID.String())
	}
	if event == "" {
		return nil, fmt.Errorf("failed to dispatch event notification for prover %s", c.ID.String())
	}
	subject := fmt.Sprintf("%s.%s", *prefix, event)
	payload, _ := json.Marshal(params)
	return natsutil.NatsJetstreamPublish(subject, payload)
}

// notificationsSubjectPrefix returns the pub/sub subject prefix for the prover
func (c *Prover) notificationsSubjectPrefix() *string {
	if c.Identifier == nil {
		return nil
	}
	return common.StringOrNil(fmt.Sprintf("privacy.proof.notification.%s.%s", *c.Identifier, c.ID.String()))
}
