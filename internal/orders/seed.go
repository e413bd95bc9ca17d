package orders

import "time"

func ts(s string) time.Time {
	t, err := time.Parse(time.DateTime, s)
	if err != nil {
		panic(err)
	}
	return t.UTC()
}

func tsp(s string) *time.Time {
	t := ts(s)
	return &t
}

// SampleOrders returns the demo data set loaded by "charmbot seed".
func SampleOrders() []Order {
	return []Order{
		{
			ID:    "2743",
			Email: "user1@example.com",
			Items: []Item{
				{Item: "Pizza", Quantity: 2, Price: 15.99},
				{Item: "Soda", Quantity: 1, Price: 2.50},
			},
			TotalPrice:      34.48,
			PaymentMethod:   "credit_card",
			PaymentStatus:   PaymentPaid,
			DeliveryAddress: "123 Main St, City",
			OrderedAt:       ts("2025-03-19 12:30:00"),
			DeliveredAt:     tsp("2025-03-19 16:30:00"),
			Status:          StatusLateDelivery,
		},
		{
			ID:    "2744",
			Email: "user2@example.com",
			Items: []Item{
				{Item: "Burger", Quantity: 1, Price: 9.99},
				{Item: "Fries", Quantity: 1, Price: 3.50},
			},
			TotalPrice:      13.49,
			PaymentMethod:   "paypal",
			PaymentStatus:   PaymentUnpaid,
			DeliveryAddress: "456 Elm St, City",
			OrderedAt:       ts("2025-03-19 14:00:00"),
			Status:          StatusPending,
		},
		{
			ID:    "2745",
			Email: "user3@example.com",
			Items: []Item{
				{Item: "Pasta", Quantity: 1, Price: 12.99},
				{Item: "Garlic Bread", Quantity: 1, Price: 4.99},
			},
			TotalPrice:      17.98,
			PaymentMethod:   "cash_on_delivery",
			PaymentStatus:   PaymentPaid,
			DeliveryAddress: "789 Oak St, City",
			OrderedAt:       ts("2025-03-19 18:45:00"),
			DeliveredAt:     tsp("2025-03-14 19:30:00"),
			Status:          StatusDelivered,
		},
		{
			ID:    "2746",
			Email: "user4@example.com",
			Items: []Item{
				{Item: "Sushi", Quantity: 3, Price: 8.50},
				{Item: "Miso Soup", Quantity: 1, Price: 2.99},
			},
			TotalPrice:      28.49,
			PaymentMethod:   "credit_card",
			PaymentStatus:   PaymentUnpaid,
			DeliveryAddress: "321 Pine St, City",
			OrderedAt:       ts("2025-03-19 10:15:00"),
			Status:          StatusProcessing,
		},
		{
			ID:    "2647",
			Email: "user5@example.com",
			Items: []Item{
				{Item: "Steak", Quantity: 1, Price: 25.99},
				{Item: "Wine", Quantity: 1, Price: 14.99},
			},
			TotalPrice:      40.98,
			PaymentMethod:   "paypal",
			PaymentStatus:   PaymentPaid,
			DeliveryAddress: "567 Maple St, City",
			OrderedAt:       ts("2025-03-19 20:20:00"),
			DeliveredAt:     tsp("2025-03-16 21:30:00"),
			Status:          StatusDelivered,
		},
	}
}
