package callback_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liujh2010/callback"
)

/*
	EVENTS
*/

type CreatedOrderEvent struct {
	orderID       string
	orderName     string
	price         float64
	count         int
	customerEmail string
}

type OrderCreatedEmailSenderHandler struct {
	emailServer *EmailServer
}

func (h *OrderCreatedEmailSenderHandler) Handle(ctx context.Context, event *CreatedOrderEvent) error {
	return h.emailServer.SendEmail(event.customerEmail, fmt.Sprint(event))
}

type InventorySystemNoticeHandler struct {
	inventorySystemAPI *InventorySystem
}

func (h *InventorySystemNoticeHandler) Handle(ctx context.Context, event *CreatedOrderEvent) error {
	return h.inventorySystemAPI.DeductingInventory(event.orderID, event.count)
}

/*
	COMMAND
*/

type CreateOrderCommand struct {
	orderID    string
	userID     string
	orderName  string
	count      int
	totalPrice float64
}

type CreateOrderCommandHandler struct{}

func (h *CreateOrderCommandHandler) Handle(ctx context.Context, command *CreateOrderCommand) (string, error) {
	/*
	*
	*	do some business logic...
	*
	 */

	fmt.Printf("the order %v was created\n", command.orderID)
	return command.orderID, nil
}

// registerOrderHandlers binds the order members. A member takes the handler
// first, then the callback, then anything the dispatch can resolve such as
// the context.
func registerOrderHandlers(r *callback.Registry) error {
	if _, err := r.RegisterHandles(func(h *OrderCreatedEmailSenderHandler, e *CreatedOrderEvent, ctx context.Context) error {
		return h.Handle(ctx, e)
	}); err != nil {
		return err
	}
	if _, err := r.RegisterHandles(func(h *InventorySystemNoticeHandler, e *CreatedOrderEvent, ctx context.Context) error {
		return h.Handle(ctx, e)
	}); err != nil {
		return err
	}
	_, err := r.RegisterHandles(func(h *CreateOrderCommandHandler, c *CreateOrderCommand, ctx context.Context) (string, error) {
		return h.Handle(ctx, c)
	})
	return err
}

func TestExample(t *testing.T) {
	// Notice: the registry and the mediator should initialize on the stage of
	// application start. This code just for easy to demo.
	registry := callback.NewRegistry()
	require.NoError(t, registerOrderHandlers(registry))

	pool, err := callback.NewRoutinePool(8)
	require.NoError(t, err)
	defer pool.Release()

	mediator := callback.New(pool, callback.WithRegistry(registry)).

		// register two handlers of "CreatedOrderEvent" to the mediator
		RegisterHandler(&OrderCreatedEmailSenderHandler{
			emailServer: new(EmailServer),
		}).
		RegisterHandler(&InventorySystemNoticeHandler{
			inventorySystemAPI: new(InventorySystem),
		}).

		// register the handler of "CreateOrderCommand" to the mediator
		RegisterHandler(&CreateOrderCommandHandler{}).

		// call Build() to finish the stage of register
		Build()

	// build a create order command to trigger command handler
	createOrderCommand := &CreateOrderCommand{
		orderID:    "9e12d851-fe4c-4dd5-a73d-9cead7df91f4",
		userID:     "customer@demo.com",
		orderName:  "foo",
		count:      10,
		totalPrice: 198.23,
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second*20)
	defer cancel()

	// In this case, the mediator will find out the handler of "CreateOrderCommand" to handle the command.
	orderID, err := mediator.Send(ctx, createOrderCommand) // trigger the command
	require.NoError(t, err)
	assert.Equal(t, createOrderCommand.orderID, orderID)

	// build the created order event
	event := &CreatedOrderEvent{
		orderID:       createOrderCommand.orderID,
		orderName:     createOrderCommand.orderName,
		price:         createOrderCommand.totalPrice,
		count:         createOrderCommand.count,
		customerEmail: createOrderCommand.userID,
	}

	// Publish the "CreatedOrderEvent" when create order command is finished.
	// The publish action will be trigger two event handlers that register by the above code,
	// these two handlers will be concurrent processing the event, the process will not be interrupted,
	// even if one of them has an error. However the cancellation via context is still supported.
	assert.NoError(t, mediator.Publish(ctx, event))
}

type EmailServer struct{}

func (s *EmailServer) SendEmail(email string, content string) error {
	fmt.Printf("the email sent to %v\n", email)
	return nil
}

type InventorySystem struct{}

func (s *InventorySystem) DeductingInventory(productID string, count int) error {
	fmt.Printf("the deducting inventory succeed by product_id: %v, with count: %v\n", productID, count)
	return nil
}
