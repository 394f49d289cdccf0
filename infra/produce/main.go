package produce

import amqp "github.com/rabbitmq/amqp091-go"

type Produce struct {
	VMService *VMService
}

var produceInstance *Produce

func InitProduce(channel *amqp.Channel) *Produce {
	if produceInstance != nil {
		return produceInstance
	}

	vmService := InitVMService(channel)
	if vmService == nil {
		panic("Failed to initialize VM produce service")
	}

	produceInstance = &Produce{
		VMService: vmService,
	}

	return produceInstance
}

func GetProduce() *Produce {
	if produceInstance == nil {
		panic("Produce not initialized. Call InitProduce() first.")
	}
	return produceInstance
}
