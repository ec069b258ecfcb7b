package types

type Side string

type PositionStatus string

type OrderStatus string

const (
	SideLong  Side = "long"
	SideShort Side = "short"
)

const (
	PositionStatusOpen    PositionStatus = "open"
	PositionStatusClosing PositionStatus = "closing"
	PositionStatusClosed  PositionStatus = "closed"
)

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusClaimed   OrderStatus = "claimed"
	OrderStatusExecuted  OrderStatus = "executed"
	OrderStatusCancelled OrderStatus = "cancelled"
)

func (s Side) Valid() bool {
	return s == SideLong || s == SideShort
}
