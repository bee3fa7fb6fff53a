package backfill

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	cloudtasks "cloud.google.com/go/cloudtasks/apiv2"
	taskspb "cloud.google.com/go/cloudtasks/apiv2/cloudtaskspb"
)

// chunkRequest is the body POSTed to TargetURL for each enqueued range;
// the backfill HTTP handler on the receiving end decodes this and runs
// an in-process Runner over just [From, To].
type chunkRequest struct {
	ChainID           int64    `json:"chain_id"`
	FromBlock         uint64   `json:"from_block"`
	ToBlock           uint64   `json:"to_block"`
	ContractAddresses []string `json:"contract_addresses"`
}

// Scheduler splits a large backfill range into fixed-size chunks and
// enqueues one Cloud Task per chunk. Used by `backfill --schedule` for
// historical replays too large to run as one long-lived process.
type Scheduler struct {
	client    *cloudtasks.Client
	queuePath string
	targetURL string
}

// NewScheduler dials Cloud Tasks and resolves the queue path from the
// config project/location/queue triple.
func NewScheduler(ctx context.Context, projectID, locationID, queueID, targetURL string) (*Scheduler, error) {
	client, err := cloudtasks.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("backfill: cloudtasks.NewClient: %w", err)
	}
	return &Scheduler{
		client:    client,
		queuePath: fmt.Sprintf("projects/%s/locations/%s/queues/%s", projectID, locationID, queueID),
		targetURL: targetURL,
	}, nil
}

// Schedule enqueues one task per chunkSize-block range covering
// [from, to], spaced by a short delay so the queue doesn't front-load
// every chunk against the RPC node at once.
func (s *Scheduler) Schedule(ctx context.Context, chainID int64, from, to uint64, contractAddrs []string, chunkSize uint64) (int, error) {
	if chunkSize == 0 {
		chunkSize = initialBatchBlocks
	}

	enqueued := 0
	cursor := from
	for cursor <= to {
		end := cursor + chunkSize - 1
		if end > to {
			end = to
		}

		body, err := json.Marshal(chunkRequest{
			ChainID:           chainID,
			FromBlock:         cursor,
			ToBlock:           end,
			ContractAddresses: contractAddrs,
		})
		if err != nil {
			return enqueued, fmt.Errorf("backfill: marshal chunk %d-%d: %w", cursor, end, err)
		}

		req := &taskspb.CreateTaskRequest{
			Parent: s.queuePath,
			Task: &taskspb.Task{
				MessageType: &taskspb.Task_HttpRequest{
					HttpRequest: &taskspb.HttpRequest{
						HttpMethod: taskspb.HttpMethod_POST,
						Url:        s.targetURL,
						Headers:    map[string]string{"Content-Type": "application/json"},
						Body:       body,
					},
				},
			},
		}

		if _, err := s.client.CreateTask(ctx, req); err != nil {
			return enqueued, fmt.Errorf("backfill: enqueue chunk %d-%d: %w", cursor, end, err)
		}
		enqueued++
		log.Printf("backfill: enqueued chunk chain=%d %d-%d", chainID, cursor, end)

		cursor = end + 1
		if cursor <= to {
			if err := sleepCtx(ctx, 50*time.Millisecond); err != nil {
				return enqueued, err
			}
		}
	}
	return enqueued, nil
}

func (s *Scheduler) Close() error {
	return s.client.Close()
}
