// Command loadclient is the bus-native analogue of the teacher's TCP
// test client: it publishes synthetic NewOrder/CancelOrder events onto
// the engine's input subject and prints whatever acks and fills it
// observes on the output subject. Where the teacher dialed a raw
// socket and framed binary messages by hand, this dials the bus and
// lets the wire codec do the framing.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"fenrir/internal/bus"
	"fenrir/internal/common"
	"fenrir/internal/wire"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		log.Error().Err(err).Msg("loadclient failed")
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		natsURL       string
		inputSubject  string
		outputSubject string
		durableName   string
		marketId      int64
		subaccountId  int64
		sideStr       string
		typeStr       string
		tifStr        string
		price         uint64
		qtyStr        string
		cancelOrderId int64
		action        string
	)

	cmd := &cobra.Command{
		Use:   "loadclient",
		Short: "publish synthetic orders and watch acks/fills come back",
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := bus.Connect(natsURL, durableName+"-stream", durableName, []string{inputSubject, outputSubject})
			if err != nil {
				return fmt.Errorf("connect bus: %w", err)
			}
			defer b.Close()

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			go printOutputs(ctx, b, outputSubject)

			switch strings.ToLower(action) {
			case "place":
				side := common.Buy
				if strings.ToLower(sideStr) == "sell" {
					side = common.Sell
				}
				orderType := common.Limit
				if strings.ToLower(typeStr) == "market" {
					orderType = common.Market
				}
				tif := common.Gtc
				switch strings.ToLower(tifStr) {
				case "ioc":
					tif = common.TifIoc
				case "fok":
					tif = common.TifFok
				}
				for _, qty := range parseQuantities(qtyStr) {
					order := common.NewOrder{
						RequestId:    uuid.NewString(),
						MarketId:     common.MarketId(marketId),
						SubaccountId: common.SubaccountId(subaccountId),
						Side:         side,
						OrderType:    orderType,
						Tif:          tif,
						PriceTicks:   common.PriceTicks(price),
						Qty:          common.Quantity(qty),
					}
					if err := publish(ctx, b, inputSubject, common.NewOrderEvent(order)); err != nil {
						log.Error().Err(err).Uint64("qty", qty).Msg("failed to place order")
						continue
					}
					fmt.Printf("-> placed request_id=%s side=%v qty=%d price=%d\n", order.RequestId, side, qty, price)
					time.Sleep(5 * time.Millisecond)
				}
			case "cancel":
				orderId := common.OrderId(cancelOrderId)
				cancel := common.CancelOrder{
					RequestId:    uuid.NewString(),
					MarketId:     common.MarketId(marketId),
					SubaccountId: common.SubaccountId(subaccountId),
					OrderId:      &orderId,
				}
				if err := publish(ctx, b, inputSubject, common.CancelOrderEvent(cancel)); err != nil {
					return fmt.Errorf("cancel order: %w", err)
				}
				fmt.Printf("-> cancel sent for order_id=%d\n", cancelOrderId)
			default:
				return fmt.Errorf("unknown action %q, want place or cancel", action)
			}

			fmt.Println("listening for acks/fills, press ctrl+c to exit")
			<-ctx.Done()
			return nil
		},
	}

	cmd.Flags().StringVar(&natsURL, "nats-url", "nats://127.0.0.1:4222", "NATS server URL")
	cmd.Flags().StringVar(&inputSubject, "input-subject", "engine.input", "bus subject the engine reads orders from")
	cmd.Flags().StringVar(&outputSubject, "output-subject", "engine.output", "bus subject the engine publishes acks/fills to")
	cmd.Flags().StringVar(&durableName, "durable-name", "loadclient", "durable consumer name for the output subscription")
	cmd.Flags().Int64Var(&marketId, "market", 1, "market id")
	cmd.Flags().Int64Var(&subaccountId, "subaccount", 1, "subaccount id")
	cmd.Flags().StringVar(&action, "action", "place", "action to perform: place or cancel")
	cmd.Flags().StringVar(&sideStr, "side", "buy", "order side: buy or sell")
	cmd.Flags().StringVar(&typeStr, "type", "limit", "order type: limit or market")
	cmd.Flags().StringVar(&tifStr, "tif", "gtc", "time in force: gtc, ioc, or fok")
	cmd.Flags().Uint64Var(&price, "price", 100, "limit price in ticks")
	cmd.Flags().StringVar(&qtyStr, "qty", "10", "quantity or comma-separated list, e.g. 10,20,50")
	cmd.Flags().Int64Var(&cancelOrderId, "order-id", 0, "order id to cancel")
	return cmd
}

func publish(ctx context.Context, b bus.Bus, subject string, event common.Event) error {
	envelope := common.EventEnvelope{Event: event, Ts: uint64(time.Now().UnixNano())}
	payload, err := wire.Marshal(&envelope)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	return b.Publish(ctx, subject, payload)
}

func printOutputs(ctx context.Context, b bus.Bus, subject string) {
	messages, err := b.Subscribe(ctx, subject)
	if err != nil {
		log.Error().Err(err).Msg("failed to subscribe to output subject")
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-messages:
			if !ok {
				return
			}
			var envelope common.EventEnvelope
			if err := wire.Unmarshal(msg.Payload, &envelope); err != nil {
				log.Warn().Err(err).Msg("failed to decode output event")
				continue
			}
			printEvent(envelope)
			_ = msg.Ack(ctx)
		}
	}
}

func printEvent(envelope common.EventEnvelope) {
	switch envelope.Event.Kind {
	case common.EventOrderAck:
		ack := envelope.Event.OrderAck
		fmt.Printf("\n[ACK] request_id=%s status=%v reason=%q order_id=%d\n", ack.RequestId, ack.Status, ack.RejectReason, ack.AssignedOrderId)
	case common.EventFill:
		fill := envelope.Event.Fill
		fmt.Printf("\n[FILL] maker=%d taker=%d price=%d qty=%d\n", fill.MakerOrderId, fill.TakerOrderId, fill.PriceTicks, fill.Qty)
	case common.EventBookDelta:
		delta := envelope.Event.BookDelta
		fmt.Printf("\n[BOOK] market=%d bids=%d asks=%d\n", delta.MarketId, len(delta.BidsLevels), len(delta.AsksLevels))
	}
}

func parseQuantities(input string) []uint64 {
	parts := strings.Split(input, ",")
	var result []uint64
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if val, err := strconv.ParseUint(p, 10, 64); err == nil {
			result = append(result, val)
		} else {
			log.Warn().Str("value", p).Msg("invalid quantity, skipping")
		}
	}
	return result
}
