package sweepworkflow

import (
	"context"
	"time"

	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/kyungseok/purchase-saga/services/item/internal/service"
)

// TaskQueue는 이 워크플로/액티비티가 등록되는 Temporal 태스크 큐 이름이다.
const TaskQueue = "item-reservation-sweep"

// SweepWorkflowName은 CronSchedule로 주기 실행되는 워크플로 이름이다.
const SweepWorkflowName = "SweepExpiredReservations"

// SweepExpiredActivityName은 워커 등록과 워크플로 호출 양쪽에서 쓰는
// 액티비티 식별자다.
const SweepExpiredActivityName = "SweepExpiredActivity"

// SweepResult는 한 번의 소거 실행 결과를 담는다.
type SweepResult struct {
	ExpiredCount int
}

// SweepWorkflow는 cmd/item의 틱커 기반 소거(1분 주기, item-service
// 프로세스 생존에 의존)를 보완하는 내구성 있는 크론이다: Temporal 서버가
// 실행 이력을 보관하므로 item-service가 재시작을 거치는 동안에도 예약
// 소거가 누락되지 않는다. 실제 DB 작업은 SweepExpiredActivity로
// 위임한다.
func SweepWorkflow(ctx workflow.Context) (SweepResult, error) {
	ao := workflow.ActivityOptions{
		StartToCloseTimeout: 30 * time.Second,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    time.Second,
			BackoffCoefficient: 2.0,
			MaximumInterval:    30 * time.Second,
			MaximumAttempts:    5,
		},
	}
	ctx = workflow.WithActivityOptions(ctx, ao)

	var result SweepResult
	err := workflow.ExecuteActivity(ctx, SweepExpiredActivityName).Get(ctx, &result)
	if err != nil {
		return SweepResult{}, err
	}
	return result, nil
}

// Activities는 워크플로가 호출하는 액티비티 구현을 담는다. item
// 서비스가 이미 가진 SweepExpired를 그대로 위임 호출한다 — 별도 소거
// 로직을 새로 만들지 않는다.
type Activities struct {
	ItemService service.ItemService
}

// SweepExpiredActivity는 ItemService.SweepExpired를 호출하고 카운트를
// 돌려준다. activity.Context는 내부적으로 일반 context.Context를
// 감싸므로 그대로 전달한다.
func (a *Activities) SweepExpiredActivity(ctx context.Context) (SweepResult, error) {
	count, err := a.ItemService.SweepExpired(ctx, time.Now())
	if err != nil {
		activity.GetLogger(ctx).Error("sweep activity failed", "error", err)
		return SweepResult{}, err
	}
	return SweepResult{ExpiredCount: count}, nil
}
