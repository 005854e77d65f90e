package configuration

import (
	"reflect"
	"testing"

	"github.com/stretchr/testify/suite"
)

type localConfiguration struct {
	Version Version `yaml:"version"`
	Log     *Log    `yaml:"log"`
	Topics  []Topic `yaml:"topics,omitempty"`
}

type Log struct {
	Formatter string `yaml:"formatter,omitempty"`
}

type Topic struct {
	Name string `yaml:"name"`
}

var expectedConfig = localConfiguration{
	Version: "0.1",
	Log: &Log{
		Formatter: "json",
	},
	Topics: []Topic{
		{Name: "events"},
		{Name: "mentions"},
		{Name: "errors"},
	},
}

const testConfig = `version: "0.1"
log:
  formatter: "text"
topics:
  - name: "events"
  - name: "mentions"
  - name: "errors"`

type ParserSuite struct {
	suite.Suite
}

func TestParserSuite(t *testing.T) {
	suite.Run(t, new(ParserSuite))
}

// newParser must be called after the environment is set up: the parser
// snapshots os.Environ at construction time.
func (s *ParserSuite) newParser() *Parser {
	return NewParser("collector", []VersionedParseInfo{
		{
			Version: "0.1",
			ParseAs: reflect.TypeOf(localConfiguration{}),
			ConversionFunc: func(c interface{}) (interface{}, error) {
				return c, nil
			},
		},
	})
}

func (s *ParserSuite) TestParserOverwriteInitializedPointer() {
	config := localConfiguration{}

	s.T().Setenv("COLLECTOR_LOG_FORMATTER", "json")

	p := s.newParser()

	err := p.Parse([]byte(testConfig), &config)
	s.Require().NoError(err)
	s.Equal(expectedConfig, config)
}

const testConfig2 = `version: "0.1"
log:
  formatter: "text"
topics:
  - name: "val1"
  - name: "val2"
  - name: "errors"`

func (s *ParserSuite) TestParseOverwriteUninitializedPointer() {
	config := localConfiguration{}

	s.T().Setenv("COLLECTOR_LOG_FORMATTER", "json")

	// override only the first two topic values in testConfig2; leave the
	// last value unchanged.
	s.T().Setenv("COLLECTOR_TOPICS_0_NAME", "events")
	s.T().Setenv("COLLECTOR_TOPICS_1_NAME", "mentions")

	p := s.newParser()

	err := p.Parse([]byte(testConfig2), &config)
	s.Require().NoError(err)
	s.Equal(expectedConfig, config)
}

func (s *ParserSuite) TestParseUnsupportedVersion() {
	config := localConfiguration{}

	p := s.newParser()

	err := p.Parse([]byte(`version: "9.9"`), &config)
	s.Require().Error(err)
	s.Contains(err.Error(), "unsupported version")
}
