package enums

import "fmt"

// OrderChannel identifies where an order was placed; each channel has its own number sequence.
type OrderChannel string

const (
	// OrderChannelCounter is the QR self-service channel.
	OrderChannelCounter OrderChannel = "counter"
	// OrderChannelWalkup is the staff-entered channel.
	OrderChannelWalkup OrderChannel = "walkup"
)

var validOrderChannels = []OrderChannel{OrderChannelCounter, OrderChannelWalkup}

func (c OrderChannel) String() string {
	return string(c)
}

func (c OrderChannel) IsValid() bool {
	for _, candidate := range validOrderChannels {
		if candidate == c {
			return true
		}
	}
	return false
}

// StartingNumber is the first order number handed out after a reset.
func (c OrderChannel) StartingNumber() int64 {
	if c == OrderChannelWalkup {
		return 1
	}
	return 101
}

func ParseOrderChannel(value string) (OrderChannel, error) {
	for _, candidate := range validOrderChannels {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid order channel %q", value)
}
