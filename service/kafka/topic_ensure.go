package kafka

import (
	"errors"

	"PPFeed/global"
	"PPFeed/logger"
	"PPFeed/tools/errs"

	"github.com/Shopify/sarama"
	"go.uber.org/zap"
)

// EnsureTopic 不存在就创建；已存在且分区数不足时扩分区（kafka 只能增不能减）
func EnsureTopic(admin sarama.ClusterAdmin, conf global.KafkaConf) error {
	t := conf.Topic
	parts, rf := conf.Partitions, conf.Replication
	if parts <= 0 {
		parts = 1
	}
	if rf <= 0 {
		rf = 1
	}

	descs, err := admin.DescribeTopics([]string{t})
	if err != nil {
		return errs.Transient(err, "kafka.DescribeTopics")
	}
	exists := len(descs) == 1 && descs[0].Err == sarama.ErrNoError

	if !exists {
		minISR := "1"
		if rf >= 3 {
			minISR = "2"
		}
		td := &sarama.TopicDetail{
			NumPartitions:     parts,
			ReplicationFactor: rf,
			ConfigEntries: map[string]*string{
				"cleanup.policy":                 strPtr("delete"),
				"min.insync.replicas":            strPtr(minISR),
				"unclean.leader.election.enable": strPtr("false"),
				"compression.type":               strPtr("producer"),
			},
		}
		if err := admin.CreateTopic(t, td, false); err != nil {
			var te *sarama.TopicError
			if (errors.As(err, &te) && te.Err == sarama.ErrTopicAlreadyExists) || errors.Is(err, sarama.ErrTopicAlreadyExists) {
				logger.Info("topic exists (race)", zap.String("topic", t))
				return nil
			}
			return errs.Transient(err, "kafka.CreateTopic")
		}
		logger.Info("topic created", zap.String("topic", t), zap.Int32("partitions", parts), zap.Int16("rf", rf))
		return nil
	}

	cur := int32(len(descs[0].Partitions))
	if parts > cur {
		if err := admin.CreatePartitions(t, parts, nil, false); err != nil {
			return errs.Transient(err, "kafka.CreatePartitions")
		}
		logger.Info("topic partitions expanded", zap.String("topic", t), zap.Int32("from", cur), zap.Int32("to", parts))
		return nil
	}
	logger.Info("topic exists", zap.String("topic", t), zap.Int32("partitions", cur))
	return nil
}

// EnsureTopicOnBrokers 启动时用一次性的 admin 连接
func EnsureTopicOnBrokers(conf global.KafkaConf) error {
	admin, err := sarama.NewClusterAdmin(conf.Brokers, BuildBaseConfig(conf))
	if err != nil {
		return errs.Transient(err, "kafka.NewClusterAdmin")
	}
	defer admin.Close()
	return EnsureTopic(admin, conf)
}

func strPtr(s string) *string { return &s }
